package tr

import (
	"context"

	"github.com/DRSN-tech/template-matcher/pkg/e"
	"github.com/jackc/pgx/v5"
)

type txKey struct{}

// WithTx кладёт объект транзакции в контекст
func WithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromCtx извлекает объект транзакции (pgx.Tx) из контекста
func TxFromCtx(ctx context.Context) (pgx.Tx, error) {
	txAny := ctx.Value(txKey{})
	tx, ok := txAny.(pgx.Tx)
	if !ok {
		return nil, e.ErrTransactionNotFound
	}
	return tx, nil
}
