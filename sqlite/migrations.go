package sqlite

import "github.com/kvlite/kvlite/sqlite/migrations"

// Migrations is the embedded schema script set applied by NewSqlStore.
var Migrations = migrations.All
