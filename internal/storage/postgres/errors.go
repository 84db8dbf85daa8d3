package postgres

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"

	"github.com/JakeFAU/missilery-catalog/internal/catalog"
)

// classify marks connection-level failures with catalog.ErrStoreUnavailable
// so callers stop instead of failing every remaining record. Statement
// errors reported by the server pass through unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, catalog.ErrStoreUnavailable) {
		return err
	}
	if unreachable(err) {
		return fmt.Errorf("%w: %w", catalog.ErrStoreUnavailable, err)
	}
	return err
}

func unreachable(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception; 57P01-57P03 are server shutdown
		// and startup states.
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, puddle.ErrClosedPool) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		pgconn.SafeToRetry(err)
}
