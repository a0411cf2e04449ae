// Package sqldb is the SQL capability: parameterized exec and query against
// a relational backend, with query cursors held in the instance's resource
// table so unfinished reads are released at teardown.
package sqldb

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	wazapi "github.com/tetratelabs/wazero/api"

	"github.com/futureforging/omnia/api"
	"github.com/futureforging/omnia/capability"
	"github.com/futureforging/omnia/host"
)

// Name is the capability's stable import name.
const Name = "sqldb"

// Database is the backend-facing contract.
type Database interface {
	Exec(ctx context.Context, query string, args []any) (int64, error)
	Query(ctx context.Context, query string, args []any) (Rows, error)
	Close(ctx context.Context) error
}

// Rows is a forward-only cursor over a result set.
type Rows interface {
	// Next returns the next row, or ok=false at the end of the set.
	Next(ctx context.Context) (api.Row, bool, error)
	Close() error
}

// Capability adapts a Database into the sandbox import namespace.
type Capability struct {
	db     Database
	logger zerolog.Logger
}

// New wraps a connected database.
func New(db Database, logger zerolog.Logger) *Capability {
	return &Capability{db: db, logger: logger.With().Str("capability", Name).Logger()}
}

// Name implements capability.Capability.
func (c *Capability) Name() string { return Name }

// Close implements capability.Capability.
func (c *Capability) Close(ctx context.Context) error { return c.db.Close(ctx) }

// Register installs the SQL operations as guest imports.
func (c *Capability) Register(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder(capability.Namespace + Name).
		NewFunctionBuilder().WithFunc(c.exec).Export("exec").
		NewFunctionBuilder().WithFunc(c.query).Export("query").
		NewFunctionBuilder().WithFunc(c.next).Export("next").
		NewFunctionBuilder().WithFunc(c.closeCursor).Export("close").
		Instantiate(ctx)
	return err
}

// exec(query_ptr, query_len, args_ptr, args_len) -> rows affected, None on
// failure. Args are a CBOR array of parameter values.
func (c *Capability) exec(ctx context.Context, mod wazapi.Module,
	qptr, qlen, aptr, alen uint32) uint64 {

	query, args, ok := c.readStatement(mod, qptr, qlen, aptr, alen)
	if !ok {
		return capability.None
	}
	affected, err := c.db.Exec(ctx, query, args)
	if err != nil {
		c.logger.Warn().Str("query", query).Err(err).Msg("exec failed")
		return capability.None
	}
	return uint64(affected)
}

// query(query_ptr, query_len, args_ptr, args_len) -> cursor handle, 0 on
// failure. The cursor is closed at instance teardown if the guest forgets.
func (c *Capability) query(ctx context.Context, mod wazapi.Module,
	qptr, qlen, aptr, alen uint32) uint32 {

	inst, ok := host.FromContext(ctx)
	if !ok {
		return 0
	}
	query, args, ok := c.readStatement(mod, qptr, qlen, aptr, alen)
	if !ok {
		return 0
	}
	rows, err := c.db.Query(ctx, query, args)
	if err != nil {
		c.logger.Warn().Str("query", query).Err(err).Msg("query failed")
		return 0
	}
	return inst.Resources.Put(rows)
}

// next(cursor) -> packed CBOR row, None at end of set or on failure.
func (c *Capability) next(ctx context.Context, mod wazapi.Module, handle uint32) uint64 {
	inst, ok := host.FromContext(ctx)
	if !ok {
		return capability.None
	}
	rows, ok := host.ResourceAs[Rows](inst.Resources, handle)
	if !ok {
		return capability.None
	}
	row, more, err := rows.Next(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("cursor next failed")
		return capability.None
	}
	if !more {
		return capability.None
	}
	encoded, err := api.Encode(row)
	if err != nil {
		return capability.None
	}
	packed, err := capability.WriteBytes(ctx, mod, encoded)
	if err != nil {
		return capability.None
	}
	return packed
}

// close(cursor) -> errno. Early release; teardown covers the rest.
func (c *Capability) closeCursor(ctx context.Context, handle uint32) uint32 {
	inst, ok := host.FromContext(ctx)
	if !ok {
		return capability.ErrnoInvalid
	}
	res, ok := inst.Resources.Remove(handle)
	if !ok {
		return capability.ErrnoInvalid
	}
	if rows, ok := res.(Rows); ok {
		_ = rows.Close()
	}
	return capability.ErrnoOK
}

func (c *Capability) readStatement(mod wazapi.Module,
	qptr, qlen, aptr, alen uint32) (string, []any, bool) {

	query, err := capability.ReadString(mod, qptr, qlen)
	if err != nil {
		return "", nil, false
	}
	var args []any
	if alen > 0 {
		raw, err := capability.ReadBytes(mod, aptr, alen)
		if err != nil {
			return "", nil, false
		}
		if err := api.Decode(raw, &args); err != nil {
			return "", nil, false
		}
	}
	return query, args, true
}
