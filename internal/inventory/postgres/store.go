// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/forgeworks/anvil/internal/catalog"
	"github.com/forgeworks/anvil/internal/core"
	"github.com/forgeworks/anvil/internal/inventory"
)

const itemColumns = `id, owner_id, template_id, enchant_level, equipped, slot,
	enchantable, stackable, count, crystals, created_at, updated_at`

// Store implements inventory.Store using PostgreSQL.
type Store struct {
	pool poolIface
}

// NewStore creates a Store.
func NewStore(pool poolIface) *Store {
	return &Store{pool: pool}
}

func scanItem(row pgx.Row) (*inventory.Item, error) {
	var it inventory.Item
	var idStr, ownerStr string
	var level int32
	if err := row.Scan(&idStr, &ownerStr, &it.TemplateID, &level, &it.Equipped, &it.Slot,
		&it.Enchantable, &it.Stackable, &it.Count, &it.Crystals, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if it.ID, err = ulid.Parse(idStr); err != nil {
		return nil, oops.With("operation", "parse item id").With("id", idStr).Wrap(err)
	}
	if it.OwnerID, err = ulid.Parse(ownerStr); err != nil {
		return nil, oops.With("operation", "parse owner_id").With("owner_id", ownerStr).Wrap(err)
	}
	it.EnchantLevel = int(level)
	return &it, nil
}

// wrapErr tags lock and serialization conflicts so callers can fail safe.
func wrapErr(err error, operation string, id ulid.ULID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.LockNotAvailable, pgerrcode.DeadlockDetected:
			return oops.Code(inventory.CodeContention).With("operation", operation).With("item_id", id.String()).Wrap(err)
		}
	}
	return oops.With("operation", operation).With("item_id", id.String()).Wrap(err)
}

func notFound(id ulid.ULID) error {
	return oops.Code(inventory.CodeItemNotFound).With("item_id", id.String()).Errorf("item not found")
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, id ulid.ULID) (*inventory.Item, error) {
	it, err := scanItem(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, wrapErr(err, "get item", id)
	}
	return it, nil
}

// GetForUpdate retrieves an item and locks its row for the rest of the
// transaction in ctx.
func (s *Store) GetForUpdate(ctx context.Context, id ulid.ULID) (*inventory.Item, error) {
	it, err := scanItem(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = $1 FOR UPDATE`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, wrapErr(err, "lock item", id)
	}
	return it, nil
}

func changed(id, owner ulid.ULID) error {
	return oops.Code(inventory.CodeItemChanged).
		With("item_id", id.String()).With("owner_id", owner.String()).
		Errorf("item is gone or no longer matches")
}

// ListByOwner returns every item owner holds, ordered by id.
func (s *Store) ListByOwner(ctx context.Context, owner ulid.ULID) ([]*inventory.Item, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+itemColumns+` FROM items WHERE owner_id = $1 ORDER BY id`, owner.String())
	if err != nil {
		return nil, oops.With("operation", "list items").With("owner_id", owner.String()).Wrap(err)
	}
	defer rows.Close()

	var items []*inventory.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, oops.With("operation", "scan item").Wrap(err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate items").Wrap(err)
	}
	return items, nil
}

// Create persists a new item. A zero ID is assigned a fresh one.
func (s *Store) Create(ctx context.Context, item *inventory.Item) error {
	if item.Count <= 0 {
		return oops.Code(inventory.CodeInvalidQuantity).With("count", item.Count).Errorf("item count must be positive")
	}
	if item.ID.IsZero() {
		item.ID = core.NewULID()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	_, err := conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, item.ID.String(), item.OwnerID.String(), item.TemplateID, int32(item.EnchantLevel), //nolint:gosec // levels are small
		item.Equipped, item.Slot, item.Enchantable, item.Stackable, item.Count, item.Crystals,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code(inventory.CodeItemExists).With("item_id", item.ID.String()).Wrap(err)
		}
		return oops.With("operation", "create item").With("item_id", item.ID.String()).Wrap(err)
	}
	return nil
}

// Consume removes qty units from a stack the owner holds.
func (s *Store) Consume(ctx context.Context, owner, id ulid.ULID, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, oops.Code(inventory.CodeInvalidQuantity).With("qty", qty).Errorf("quantity must be positive")
	}
	q := conn(ctx, s.pool)

	var ownerStr string
	var count int64
	err := q.QueryRow(ctx, `SELECT owner_id, count FROM items WHERE id = $1 FOR UPDATE`, id.String()).
		Scan(&ownerStr, &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, notFound(id)
	}
	if err != nil {
		return 0, wrapErr(err, "lock stack", id)
	}
	if ownerStr != owner.String() {
		return 0, oops.Code(inventory.CodeNotOwner).With("item_id", id.String()).With("owner_id", owner.String()).
			Errorf("item held by another owner")
	}
	if count < qty {
		return count, oops.Code(inventory.CodeInsufficientQuantity).
			With("item_id", id.String()).With("have", count).With("want", qty).
			Errorf("not enough items")
	}

	if count == qty {
		if _, err := q.Exec(ctx, `DELETE FROM items WHERE id = $1`, id.String()); err != nil {
			return 0, wrapErr(err, "delete stack", id)
		}
		return 0, nil
	}
	if _, err := q.Exec(ctx, `UPDATE items SET count = count - $2, updated_at = now() WHERE id = $1`,
		id.String(), qty); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation {
			return 0, oops.Code(inventory.CodeInsufficientQuantity).With("item_id", id.String()).Wrap(err)
		}
		return 0, wrapErr(err, "decrement stack", id)
	}
	return count - qty, nil
}

// Destroy removes the item.
func (s *Store) Destroy(ctx context.Context, owner, id ulid.ULID) error {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM items WHERE id = $1 AND owner_id = $2`, id.String(), owner.String())
	if err != nil {
		return wrapErr(err, "destroy item", id)
	}
	if tag.RowsAffected() == 0 {
		return notFound(id)
	}
	return nil
}

// AddStack grants qty units of tmpl, merging into the owner's existing stack.
func (s *Store) AddStack(ctx context.Context, owner ulid.ULID, tmpl catalog.TemplateID, qty int64) (*inventory.Item, error) {
	if qty <= 0 {
		return nil, oops.Code(inventory.CodeInvalidQuantity).With("qty", qty).Errorf("quantity must be positive")
	}
	it, err := scanItem(conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO items (id, owner_id, template_id, stackable, count)
		VALUES ($1, $2, $3, TRUE, $4)
		ON CONFLICT (owner_id, template_id) WHERE stackable
		DO UPDATE SET count = items.count + EXCLUDED.count, updated_at = now()
		RETURNING `+itemColumns,
		core.NewULID().String(), owner.String(), tmpl, qty))
	if err != nil {
		return nil, oops.With("operation", "add stack").
			With("owner_id", owner.String()).With("template_id", tmpl).Wrap(err)
	}
	return it, nil
}

// Unequip clears the equipped flag and slot.
func (s *Store) Unequip(ctx context.Context, owner, id ulid.ULID) error {
	tag, err := conn(ctx, s.pool).Exec(ctx,
		`UPDATE items SET equipped = FALSE, slot = '', updated_at = now() WHERE id = $1 AND owner_id = $2`,
		id.String(), owner.String())
	if err != nil {
		return wrapErr(err, "unequip item", id)
	}
	if tag.RowsAffected() == 0 {
		return changed(id, owner)
	}
	return nil
}

// SetEnchant writes a new enchant level and accumulated crystal value.
func (s *Store) SetEnchant(ctx context.Context, owner, id ulid.ULID, from, to int, crystals int64) error {
	if to < 0 {
		return oops.Code("INVALID_ENCHANT_LEVEL").With("level", to).Errorf("enchant level must be >= 0")
	}
	tag, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE items SET enchant_level = $4, crystals = $5, updated_at = now()
		WHERE id = $1 AND owner_id = $2 AND enchant_level = $3`,
		id.String(), owner.String(), int32(from), int32(to), crystals) //nolint:gosec // levels are small
	if err != nil {
		return wrapErr(err, "set enchant", id)
	}
	if tag.RowsAffected() == 0 {
		return changed(id, owner)
	}
	return nil
}
