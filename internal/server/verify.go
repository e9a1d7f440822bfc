package server

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	pgstore "github.com/JakeFAU/compintel-monitor/internal/storage/postgres"
)

// TableStatus reports whether a required table exists.
type TableStatus struct {
	Name    string
	Present bool
}

// LLMStatus reports whether the configured provider accepts the key.
type LLMStatus struct {
	Provider   string
	Model      string
	Configured bool
	Valid      bool
	Error      string
}

// Verification is the outcome of Verify.
type Verification struct {
	Tables []TableStatus
	LLM    LLMStatus
}

// OK reports whether every table exists and the LLM key was accepted.
func (v Verification) OK() bool {
	for _, t := range v.Tables {
		if !t.Present {
			return false
		}
	}
	return v.LLM.Valid
}

// Verify checks the database schema and the LLM key.
func (a *App) Verify(ctx context.Context) (Verification, error) {
	missing, err := a.store.MissingTables(ctx, pgstore.Tables)
	if err != nil {
		return Verification{}, fmt.Errorf("check tables: %w", err)
	}
	v := Verification{LLM: LLMStatus{Provider: a.cfg.LLM.Provider, Model: a.cfg.LLM.Model}}
	for _, name := range pgstore.Tables {
		v.Tables = append(v.Tables, TableStatus{Name: name, Present: !slices.Contains(missing, name)})
	}

	if a.llm == nil {
		v.LLM.Error = "no API key configured"
		return v, nil
	}
	v.LLM.Configured = true
	if err := a.llm.ValidateKey(ctx); err != nil {
		a.logger.Warn("LLM key validation failed", zap.Error(err))
		v.LLM.Error = err.Error()
		return v, nil
	}
	v.LLM.Valid = true
	return v, nil
}
