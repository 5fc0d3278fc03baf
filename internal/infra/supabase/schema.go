package supabase

import _ "embed"

// Schema is the DDL the adapter expects: the seq ordering columns, the
// baixas (processo_id, valor, data_baixa) unique constraint, the baixas to
// processos foreign key and the reset_all function.
//
//go:embed schema.sql
var Schema string
