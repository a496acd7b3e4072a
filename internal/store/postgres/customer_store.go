package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/everest/internal/domain"
)

// CustomerStore implements domain.CustomerStore using PostgreSQL.
type CustomerStore struct {
	pool *pgxpool.Pool
}

// NewCustomerStore creates a new CustomerStore backed by the given pool.
func NewCustomerStore(pool *pgxpool.Pool) *CustomerStore {
	return &CustomerStore{pool: pool}
}

// Create inserts a customer. A duplicate email fails with ErrAlreadyExists.
func (s *CustomerStore) Create(ctx context.Context, tx domain.Tx, c domain.Customer) (int64, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return 0, err
	}

	var id int64
	err = q.QueryRow(ctx,
		`INSERT INTO customers (full_name, email) VALUES ($1, $2) RETURNING id`,
		c.FullName, c.Email,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("create customer", err)
	}
	return id, nil
}

// GetByID retrieves a customer.
func (s *CustomerStore) GetByID(ctx context.Context, tx domain.Tx, id int64) (domain.Customer, error) {
	q, err := conn(s.pool, tx)
	if err != nil {
		return domain.Customer{}, err
	}

	var c domain.Customer
	err = q.QueryRow(ctx,
		`SELECT id, full_name, email, created_at FROM customers WHERE id = $1`, id,
	).Scan(&c.ID, &c.FullName, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Customer{}, domain.ErrNotFound
		}
		return domain.Customer{}, storageErr(fmt.Sprintf("get customer %d", id), err)
	}
	return c, nil
}

var _ domain.CustomerStore = (*CustomerStore)(nil)
