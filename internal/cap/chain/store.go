package chain

import "context"

// Store is the capability interface C9 appends to and C10 reads from,
// grounded on the same interface-segregation shape as keys.Store.
type Store interface {
	// Last returns the most recent Record for tenant by interval_end, or
	// ok=false if the chain is empty (genesis).
	Last(ctx context.Context, tenant string) (rec Record, ok bool, err error)

	// Append durably adds rec to tenant's chain. Implementations must make
	// this atomic with the caller's watermark advance (spec §4.9 step 6).
	Append(ctx context.Context, tenant string, rec Record) error

	// List returns every Record for tenant ordered by interval_end
	// ascending. It takes no time bounds; callers filter the result.
	List(ctx context.Context, tenant string) ([]Record, error)

	// ByID returns a specific Record, or ok=false if not found.
	ByID(ctx context.Context, tenant, digestID string) (rec Record, ok bool, err error)
}
