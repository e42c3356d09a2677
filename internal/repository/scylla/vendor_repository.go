package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bhargava562/vyapar-ai/internal/model"
	"github.com/bhargava562/vyapar-ai/internal/util"
)

var ErrVendorNotFound = errors.New("vendor not found")

const (
	stmtCreateVendor = `
		INSERT INTO vendors (vendor_id, identifier, name, market_location,
			preferred_language, status, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	stmtCreateIdentifierLookup = `
		INSERT INTO identifier_to_vendor (identifier, vendor_id, created_at)
		VALUES (?, ?, ?)`

	stmtGetVendorIDByIdentifier = `
		SELECT vendor_id FROM identifier_to_vendor WHERE identifier = ?`

	stmtGetVendorByID = `
		SELECT vendor_id, identifier, name, market_location, preferred_language,
			status, created_at, last_active
		FROM vendors WHERE vendor_id = ?`

	stmtUpdateLastActive = `
		UPDATE vendors SET last_active = ? WHERE vendor_id = ?`

	stmtDeactivateVendor = `
		UPDATE vendors SET status = 'deactivated' WHERE vendor_id = ?`
)

// VendorRepository persists vendor identities. Lookup by identifier goes
// through the identifier_to_vendor table, keeping both access paths on a
// partition key.
type VendorRepository struct {
	client *ScyllaClient
}

func NewVendorRepository(client *ScyllaClient) *VendorRepository {
	return &VendorRepository{client: client}
}

func (r *VendorRepository) CreateVendor(ctx context.Context, vendor *model.Vendor) error {
	if vendor.VendorID == "" {
		vendor.VendorID = uuid.New().String()
	}

	now := time.Now().UTC()
	vendor.CreatedAt = now
	vendor.LastActive = now
	if vendor.Status == "" {
		vendor.Status = "active"
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(stmtCreateVendor,
		vendor.VendorID, vendor.Identifier, vendor.Name, vendor.MarketLocation,
		vendor.PreferredLanguage, vendor.Status, vendor.CreatedAt, vendor.LastActive)
	batch.Query(stmtCreateIdentifierLookup, vendor.Identifier, vendor.VendorID, now)

	if err := r.client.Session.ExecuteBatch(batch); err != nil {
		util.Error("Failed to create vendor",
			zap.String("vendor_id", vendor.VendorID),
			zap.Error(err))
		return fmt.Errorf("failed to create vendor: %w", err)
	}

	util.Info("Vendor created",
		zap.String("vendor_id", vendor.VendorID))
	return nil
}

func (r *VendorRepository) GetVendorByIdentifier(ctx context.Context, identifier string) (*model.Vendor, error) {
	var vendorID string
	query := r.client.Session.Query(stmtGetVendorIDByIdentifier, identifier).WithContext(ctx)
	if err := r.client.ScanWithRetry(query, &vendorID); err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrVendorNotFound
		}
		util.Error("Failed to resolve vendor identifier", zap.Error(err))
		return nil, fmt.Errorf("failed to resolve vendor identifier: %w", err)
	}
	return r.GetVendorByID(ctx, vendorID)
}

func (r *VendorRepository) GetVendorByID(ctx context.Context, vendorID string) (*model.Vendor, error) {
	vendor := &model.Vendor{}
	query := r.client.Session.Query(stmtGetVendorByID, vendorID).WithContext(ctx)
	err := r.client.ScanWithRetry(query,
		&vendor.VendorID, &vendor.Identifier, &vendor.Name, &vendor.MarketLocation,
		&vendor.PreferredLanguage, &vendor.Status, &vendor.CreatedAt, &vendor.LastActive)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrVendorNotFound
		}
		util.Error("Failed to get vendor",
			zap.String("vendor_id", vendorID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get vendor: %w", err)
	}
	return vendor, nil
}

func (r *VendorRepository) UpdateLastActive(ctx context.Context, vendorID string) error {
	query := r.client.Session.Query(stmtUpdateLastActive, time.Now().UTC(), vendorID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to update last_active: %w", err)
	}
	return nil
}

func (r *VendorRepository) DeactivateVendor(ctx context.Context, vendorID string) error {
	query := r.client.Session.Query(stmtDeactivateVendor, vendorID).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to deactivate vendor",
			zap.String("vendor_id", vendorID),
			zap.Error(err))
		return fmt.Errorf("failed to deactivate vendor: %w", err)
	}
	util.Info("Vendor deactivated", zap.String("vendor_id", vendorID))
	return nil
}
