package otel

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxStatementLen 限制写入 span 的 SQL 长度
const maxStatementLen = 500

// DBSpan 为一条数据库语句创建 client span
func DBSpan(ctx context.Context, operation string, statement string) (context.Context, trace.Span) {
	if len(statement) > maxStatementLen {
		statement = statement[:maxStatementLen]
	}
	return Tracer().Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)
}

// EndDBSpan 根据错误设置 span 状态并结束；pgx.ErrNoRows 不算失败
func EndDBSpan(span trace.Span, err error) {
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, "")
	case errors.Is(err, pgx.ErrNoRows):
		span.SetStatus(codes.Ok, "no rows")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
