// Package provision orchestrates tenant database lifecycle: creating the
// external database resource, minting its credentials, running initial
// schema setup, and keeping the registry current. GetOrSync is the single
// entry point the surrounding application calls once per authentication
// event.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/pkg/idgen"

	"github.com/hazyhaar/dbfleet/internal/migrate"
	"github.com/hazyhaar/dbfleet/internal/platform"
	"github.com/hazyhaar/dbfleet/internal/registry"
	"github.com/hazyhaar/dbfleet/internal/tenant"
)

// Orchestrator wires the platform client, registry, migration runner and
// tenant opener into the provisioning flow.
type Orchestrator struct {
	platform *platform.Client
	registry *registry.Registry
	runner   *migrate.Runner
	opener   tenant.Opener

	group              string
	tokenExpiration    string
	tokenAuthorization string
	urlScheme          string
	leaseTTL           time.Duration
	log                *slog.Logger
}

// Options configures an Orchestrator. Zero fields fall back to the defaults
// the managed platform expects.
type Options struct {
	Platform *platform.Client
	Registry *registry.Registry
	Runner   *migrate.Runner
	Opener   tenant.Opener

	Group              string // database group, default "default"
	TokenExpiration    string // default "never"
	TokenAuthorization string // default "full-access"
	URLScheme          string // default "libsql"
	LeaseTTL           time.Duration
	Logger             *slog.Logger
}

func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		platform:           opts.Platform,
		registry:           opts.Registry,
		runner:             opts.Runner,
		opener:             opts.Opener,
		group:              opts.Group,
		tokenExpiration:    opts.TokenExpiration,
		tokenAuthorization: opts.TokenAuthorization,
		urlScheme:          opts.URLScheme,
		leaseTTL:           opts.LeaseTTL,
		log:                opts.Logger,
	}
	if o.opener == nil {
		o.opener = tenant.DriverOpener{}
	}
	if o.group == "" {
		o.group = "default"
	}
	if o.tokenExpiration == "" {
		o.tokenExpiration = "never"
	}
	if o.tokenAuthorization == "" {
		o.tokenAuthorization = "full-access"
	}
	if o.urlScheme == "" {
		o.urlScheme = "libsql"
	}
	if o.leaseTTL <= 0 {
		o.leaseTTL = 2 * time.Minute
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o
}

// SanitizeName turns a tenant identity into a resource name the management
// API accepts: lowercase, underscores become dashes, tenant- prefix.
func SanitizeName(tenantID string) string {
	return "tenant-" + strings.ReplaceAll(strings.ToLower(tenantID), "_", "-")
}

// GetOrSync returns the tenant's database entry, provisioning it on first
// sight and otherwise converging its schema. Concurrent calls for the same
// tenant are serialized by a registry lease; a held lease surfaces as
// registry.ErrLeaseHeld for the caller to retry.
func (o *Orchestrator) GetOrSync(ctx context.Context, tenantID, contact string) (*registry.Entry, error) {
	holder := idgen.New()
	if err := o.registry.AcquireLease(ctx, tenantID, holder, o.leaseTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.registry.ReleaseLease(context.WithoutCancel(ctx), tenantID, holder); err != nil {
			o.log.Warn("releasing sync lease", "tenant", tenantID, "error", err)
		}
	}()

	entry, err := o.registry.Get(ctx, tenantID)
	if errors.Is(err, registry.ErrNotFound) {
		return o.provision(ctx, tenantID, contact)
	}
	if err != nil {
		return nil, err
	}
	return o.syncExisting(ctx, entry, tenantID)
}

// Sync converges an already provisioned tenant. Unlike GetOrSync it never
// provisions: an unknown tenant surfaces as registry.ErrNotFound.
func (o *Orchestrator) Sync(ctx context.Context, tenantID string) (*registry.Entry, error) {
	holder := idgen.New()
	if err := o.registry.AcquireLease(ctx, tenantID, holder, o.leaseTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.registry.ReleaseLease(context.WithoutCancel(ctx), tenantID, holder); err != nil {
			o.log.Warn("releasing sync lease", "tenant", tenantID, "error", err)
		}
	}()

	entry, err := o.registry.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return o.syncExisting(ctx, entry, tenantID)
}

func (o *Orchestrator) syncExisting(ctx context.Context, entry *registry.Entry, tenantID string) (*registry.Entry, error) {
	db, err := o.opener.Open(ctx, entry.URL, entry.Token)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	res, err := o.runner.Sync(ctx, db, tenantID)
	if err != nil {
		return nil, err
	}
	if res.Applied {
		entry.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
		if err := o.registry.Upsert(ctx, entry); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// Provision creates the tenant's database resource, mints a credential,
// initializes the canonical schema and records the registry entry. Safe to
// call again after a partial failure: the external create is idempotent and
// schema setup re-runs from wherever it stopped.
func (o *Orchestrator) Provision(ctx context.Context, tenantID, contact string) (*registry.Entry, error) {
	holder := idgen.New()
	if err := o.registry.AcquireLease(ctx, tenantID, holder, o.leaseTTL); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.registry.ReleaseLease(context.WithoutCancel(ctx), tenantID, holder); err != nil {
			o.log.Warn("releasing sync lease", "tenant", tenantID, "error", err)
		}
	}()
	return o.provision(ctx, tenantID, contact)
}

func (o *Orchestrator) provision(ctx context.Context, tenantID, contact string) (*registry.Entry, error) {
	name := SanitizeName(tenantID)
	o.log.Info("provisioning tenant database", "tenant", tenantID, "db_name", name)

	info, err := o.platform.CreateDatabase(ctx, name, o.group)
	if err != nil {
		return nil, err
	}
	token, err := o.platform.CreateToken(ctx, info.Name, o.tokenExpiration, o.tokenAuthorization)
	if err != nil {
		return nil, err
	}
	dbURL := fmt.Sprintf("%s://%s", o.urlScheme, info.Hostname)

	db, err := o.opener.Open(ctx, dbURL, token)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if _, err := o.runner.Sync(ctx, db, tenantID); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	entry := &registry.Entry{
		TenantID:  tenantID,
		Contact:   contact,
		DBName:    info.Name,
		URL:       dbURL,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.registry.Upsert(ctx, entry); err != nil {
		return nil, err
	}
	o.log.Info("tenant database provisioned", "tenant", tenantID, "db_name", info.Name)
	return entry, nil
}
