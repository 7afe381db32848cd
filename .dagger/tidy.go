package main

import (
	"context"
	"errors"
	"fmt"

	"dagger/twin/internal/dagger"
)

// CheckSource fails when go.mod or go.sum are not tidy or when any file is
// not gofmt-formatted.
//
// +check
func (t *Twin) CheckSource(ctx context.Context) (string, error) {
	ctr := t.goContainer()

	_, err := ctr.
		WithExec([]string{"cp", "go.mod", "go.mod.HEAD"}).
		WithExec([]string{"cp", "go.sum", "go.sum.HEAD"}).
		WithExec([]string{"go", "mod", "tidy"}).
		WithExec([]string{"sh", "-c", "diff -u go.mod.HEAD go.mod && diff -u go.sum.HEAD go.sum"}).
		Sync(ctx)
	if err := execFailure(err, "go.mod or go.sum are not tidy: run 'go mod tidy' and commit the changes"); err != nil {
		return "", err
	}

	_, err = ctr.
		WithExec([]string{"sh", "-c", `out=$(gofmt -l $(git ls-files '*.go' 2>/dev/null || find . -name '*.go' -not -path './_*')); echo "$out"; test -z "$out"`}).
		Sync(ctx)
	if err := execFailure(err, "files need gofmt"); err != nil {
		return "", err
	}

	return "go.mod, go.sum and formatting are clean", nil
}

func execFailure(err error, msg string) error {
	var e *dagger.ExecError
	switch {
	case errors.As(err, &e):
		return fmt.Errorf("%s\n\n%s", msg, e.Stdout)
	case err != nil:
		return fmt.Errorf("unexpected error: %w", err)
	}
	return nil
}
