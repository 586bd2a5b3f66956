package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guido-cesarano/productdb/pkg/tasks"
)

// Task types handled by the worker.
const (
	TypePerformProductCheck     = "productdb.perform_product_check"
	TypeImportPriceList         = "productdb.import_price_list"
	TypeImportProductMigrations = "productdb.import_product_migrations"
	TypeDeleteAllProductChecks  = "productdb.delete_all_product_checks"
)

// stepDelay simulates the work between two progress updates.
var stepDelay = 200 * time.Millisecond

// jobResult is stored as the info of a successful task. A job that ran but
// could not do its work still succeeds, with ErrorMessage set.
type jobResult struct {
	StatusMessage string      `json:"status_message,omitempty"`
	ErrorMessage  string      `json:"error_message,omitempty"`
	Data          interface{} `json:"data,omitempty"`
}

// handlerFunc runs one task. progress publishes a status message to pollers.
type handlerFunc func(ctx context.Context, task *tasks.Task, progress func(string)) (*jobResult, error)

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func defaultHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		TypePerformProductCheck:     performProductCheck,
		TypeImportPriceList:         importPriceList,
		TypeImportProductMigrations: importProductMigrations,
		TypeDeleteAllProductChecks:  deleteAllProductChecks,
	}
}

// payloadField returns a top-level field of a JSON object payload.
func payloadField(task *tasks.Task, key string) (interface{}, bool) {
	m, ok := task.Payload.(map[string]interface{})
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	return v, ok && v != nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func performProductCheck(ctx context.Context, task *tasks.Task, progress func(string)) (*jobResult, error) {
	progress("Load Product Check...")

	id, ok := payloadField(task, "product_check_id")
	if !ok {
		return &jobResult{ErrorMessage: "Cannot load product check, ID not found in database (missing product_check_id)."}, nil
	}

	progress("Product Check in progress, please wait...")
	if err := sleep(ctx, stepDelay); err != nil {
		return nil, err
	}

	return &jobResult{
		StatusMessage: "Product check successful finished.",
		Data:          map[string]interface{}{"product_check_id": id},
	}, nil
}

// importFile walks the steps shared by the Excel imports.
func importFile(ctx context.Context, task *tasks.Task, progress func(string), done string) (*jobResult, error) {
	progress("Try to import uploaded file...")

	fileID, ok := payloadField(task, "job_file_id")
	if !ok {
		return &jobResult{ErrorMessage: "Cannot find file that was uploaded."}, nil
	}

	progress("File valid, start updating the database...")
	if err := sleep(ctx, stepDelay); err != nil {
		return nil, err
	}
	progress("Database import finished, processing results...")

	updateOnly, _ := payloadField(task, "update_only")
	return &jobResult{
		StatusMessage: done,
		Data: map[string]interface{}{
			"job_file_id": fileID,
			"update_only": updateOnly == true,
		},
	}, nil
}

func importPriceList(ctx context.Context, task *tasks.Task, progress func(string)) (*jobResult, error) {
	return importFile(ctx, task, progress, "Product list successful imported.")
}

func importProductMigrations(ctx context.Context, task *tasks.Task, progress func(string)) (*jobResult, error) {
	return importFile(ctx, task, progress, "Product migrations successful updated.")
}

func deleteAllProductChecks(ctx context.Context, task *tasks.Task, progress func(string)) (*jobResult, error) {
	progress("Delete all product checks...")
	if err := sleep(ctx, stepDelay); err != nil {
		return nil, err
	}
	return &jobResult{StatusMessage: "All product checks deleted."}, nil
}

func unknownType(taskType string) error {
	return permanent(fmt.Errorf("unknown task type %q", taskType))
}
