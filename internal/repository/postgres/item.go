package postgres

import (
	"context"
	"database/sql"
	"errors"

	"member-intranet/internal/domain"
	"member-intranet/internal/logger"
	"member-intranet/internal/repository"

	"github.com/lib/pq"
)

type itemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) repository.ItemRepository {
	return &itemRepository{db: db}
}

var itemSelect = `SELECT i.id, i.name, i.unit, i.quantity, ` + consumedQuantitySQL + ` AS consumed FROM inventory_items i`

func scanItem(row rowScanner) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	var consumed int32
	if err := row.Scan(&item.ID, &item.Name, &item.Unit, &item.Quantity, &consumed); err != nil {
		return nil, err
	}
	item.AvailableQuantity = domain.Available(item.Quantity, consumed)
	return &item, nil
}

func (r *itemRepository) GetByID(ctx context.Context, id int32) (*domain.InventoryItem, error) {
	logger.DatabaseCall("SELECT", "inventory_items", "itemID", id)
	item, err := scanItem(r.db.QueryRowContext(ctx, itemSelect+` WHERE i.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	logger.DatabaseResult("SELECT", 1, err, "itemID", id)
	return item, err
}

func (r *itemRepository) GetByIDs(ctx context.Context, ids []int32) (map[int32]domain.InventoryItem, error) {
	out := make(map[int32]domain.InventoryItem, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.QueryContext(ctx, itemSelect+` WHERE i.id = ANY($1)`, pq.Array(toInt64s(ids)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[item.ID] = *item
	}
	return out, rows.Err()
}

func (r *itemRepository) List(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx, itemSelect+` ORDER BY i.name, i.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
