package repository

import (
	"errors"

	"estatecrm/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// 违反约束时对应的领域错误
var constraintErrors = map[string]error{
	"pipelines_name_key":        model.ErrDuplicateName,
	"stages_pipeline_order_key": model.ErrDuplicateStageOrder,
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translate maps pgx errors to model errors. kind and id describe the row the
// statement targeted and are used for not-found results.
func translate(err error, kind string, id string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.NotFoundError{Kind: kind, ID: id}
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		if mapped, ok := constraintErrors[pgErr.ConstraintName]; ok {
			return mapped
		}
	case pgForeignKeyViolation:
		switch pgErr.ConstraintName {
		case "deals_current_stage_id_fkey":
			if pgErr.TableName == "deals" {
				return &model.NotFoundError{Kind: "stage", ID: id}
			}
			return model.ErrStageInUse
		case "deals_client_id_fkey":
			return &model.ValidationError{Field: "client_id", Message: "client does not exist"}
		case "stages_pipeline_id_fkey":
			return &model.NotFoundError{Kind: "pipeline", ID: id}
		}
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
