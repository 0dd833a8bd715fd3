package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/getkayan/console/core/access"
	"github.com/getkayan/console/core/audit"
	"github.com/getkayan/console/core/domain"
	"github.com/getkayan/console/core/logger"
	"github.com/getkayan/console/core/product"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			if cfg.SkipAutoMigrate {
				if err := repo.AutoMigrate(); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}
			logger.Log.Info("schema is up to date", zap.String("db_type", cfg.DBType))
			return nil
		},
	}
}

func newProductCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "product",
		Short: "Manage the product catalog",
	}

	var p domain.Product
	create := &cobra.Command{
		Use:   "create",
		Short: "Add a product to the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := product.NewCatalog(repo, logger.Log).Create(cmd.Context(), &p); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	create.Flags().StringVar(&p.Name, "name", "", "product name")
	create.Flags().StringVar(&p.LaunchURL, "url", "", "launch URL receiving the magic_token parameter")
	create.Flags().Float64Var(&p.Price, "price", 0, "price")
	create.Flags().StringVar(&p.Description, "description", "", "description")
	create.Flags().StringVar(&p.Logo, "logo", "", "logo URL")
	create.Flags().BoolVar(&p.SubMode, "sub-mode", false, "subscription mode")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("url")

	var filter domain.ProductFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List products, launch URLs included",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			products, err := repo.ListProducts(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), products)
		},
	}
	list.Flags().StringVar(&filter.Name, "name", "", "case-insensitive name filter")
	list.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of products")
	list.Flags().IntVar(&filter.Offset, "offset", 0, "products to skip")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a product with its subscriptions and grants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid product id %q", args[0])
			}
			_, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			return product.NewCatalog(repo, logger.Log).Delete(cmd.Context(), id)
		},
	}

	cmd.AddCommand(create, list, del)
	return cmd
}

func newGrantCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant products to roles and roles to users",
	}

	var tenantID, roleID, productID, userID uint64
	roleProduct := &cobra.Command{
		Use:   "role-product",
		Short: "Let every holder of a role launch a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			return access.NewChecker(repo, repo, access.WithLogger(logger.Log)).
				GrantRoleProduct(cmd.Context(), tenantID, roleID, productID)
		},
	}
	roleProduct.Flags().Uint64Var(&tenantID, "tenant", 0, "tenant id")
	roleProduct.Flags().Uint64Var(&roleID, "role", 0, "role id")
	roleProduct.Flags().Uint64Var(&productID, "product", 0, "product id")

	userRole := &cobra.Command{
		Use:   "user-role",
		Short: "Give a user a role inside a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			return access.NewChecker(repo, repo, access.WithLogger(logger.Log)).
				AssignRole(cmd.Context(), tenantID, userID, roleID)
		},
	}
	userRole.Flags().Uint64Var(&tenantID, "tenant", 0, "tenant id")
	userRole.Flags().Uint64Var(&userID, "user", 0, "user id")
	userRole.Flags().Uint64Var(&roleID, "role", 0, "role id")

	for _, sub := range []*cobra.Command{roleProduct, userRole} {
		_ = sub.MarkFlagRequired("tenant")
		_ = sub.MarkFlagRequired("role")
	}
	_ = roleProduct.MarkFlagRequired("product")
	_ = userRole.MarkFlagRequired("user")

	cmd.AddCommand(roleProduct, userRole)
	return cmd
}

func newSubscribeCommand(c *cli) *cobra.Command {
	var tenantID, productID uint64
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Subscribe a tenant to a product",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			auditLog := audit.NewLogger(repo, audit.DefaultHooks())
			checker := access.NewChecker(repo, repo,
				access.WithHooks(audit.AccessHooks(auditLog, logger.Log)),
				access.WithLogger(logger.Log),
			)
			s, err := checker.Subscribe(cmd.Context(), tenantID, productID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), s)
		},
	}
	cmd.Flags().Uint64Var(&tenantID, "tenant", 0, "tenant id")
	cmd.Flags().Uint64Var(&productID, "product", 0, "product id")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func newUsageCommand(c *cli) *cobra.Command {
	var tenantID uint64
	var limit int
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show the launch tokens issued for a tenant, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			usages, err := repo.ListTokenUsages(cmd.Context(), tenantID, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), usages)
		},
	}
	cmd.Flags().Uint64Var(&tenantID, "tenant", 0, "tenant id")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of rows")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newAuditCommand(c *cli) *cobra.Command {
	var (
		filter audit.Filter
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query launch and access audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, repo, err := c.openStorage()
			if err != nil {
				return err
			}
			defer repo.Close()
			if since > 0 {
				filter.StartTime = time.Now().Add(-since)
			}
			events, err := repo.Query(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().Uint64Var(&filter.TenantID, "tenant", 0, "tenant id")
	cmd.Flags().StringSliceVar(&filter.Types, "type", nil, "event types, e.g. launch.token.rejected")
	cmd.Flags().StringSliceVar(&filter.Statuses, "status", nil, "event statuses: success, failure, blocked")
	cmd.Flags().DurationVar(&since, "since", 0, "only events newer than this")
	cmd.Flags().IntVar(&filter.Limit, "limit", 100, "maximum number of events")
	return cmd
}
