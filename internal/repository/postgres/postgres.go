package postgres

import sq "github.com/Masterminds/squirrel"

// psql builds statements with Postgres-style $n placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
