package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/medcia/medreminder/internal/repo"
)

type seedOptions struct {
	medicine  string
	dosage    string
	frequency string
	username  string
	email     string
	phone     string
	timezone  string
	in        time.Duration
}

// newSeedCmd inserts one medicine, optionally an owner with a profile, and a
// reminder scheduled at now+in. Development aid only.
func newSeedCmd(opts *rootOptions) *cobra.Command {
	so := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo reminder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.envFile)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, opts.stdout, opts.stderr)
			if err != nil {
				return err
			}
			defer func() { _ = a.close(context.Background()) }()

			id, err := seed(cmd.Context(), a, so, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&so.medicine, "medicine", "Paracetamol", "medicine name")
	f.StringVar(&so.dosage, "dosage", "500mg", "dosage")
	f.StringVar(&so.frequency, "frequency", "twice daily", "frequency")
	f.StringVar(&so.username, "username", "", "owner username (no owner when empty)")
	f.StringVar(&so.email, "email", "", "owner email")
	f.StringVar(&so.phone, "phone", "", "owner phone, E.164")
	f.StringVar(&so.timezone, "timezone", "", "owner IANA timezone")
	f.DurationVar(&so.in, "in", 0, "schedule the reminder this far from now (negative = already due)")
	return cmd
}

// seed writes the demo rows in one transaction and returns the reminder id.
func seed(ctx context.Context, a *app, so *seedOptions, now time.Time) (string, error) {
	var reminderID string
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		med, err := repo.CreateMedicine(ctx, tx, so.medicine, so.dosage, so.frequency)
		if err != nil {
			return fmt.Errorf("create medicine: %w", err)
		}

		var owner *string
		if name := strings.TrimSpace(so.username); name != "" {
			u, err := repo.CreateUser(ctx, tx, name, strings.TrimSpace(so.email))
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			owner = &u.ID
			if so.phone != "" || so.timezone != "" {
				var phone *string
				if p := strings.TrimSpace(so.phone); p != "" {
					phone = &p
				}
				if _, err := repo.UpsertProfile(ctx, tx, u.ID, phone, strings.TrimSpace(so.timezone)); err != nil {
					return fmt.Errorf("create profile: %w", err)
				}
			}
		}

		r, err := repo.CreateReminder(ctx, tx, med.ID, owner, now.Add(so.in))
		if err != nil {
			return fmt.Errorf("create reminder: %w", err)
		}
		reminderID = r.ID
		return nil
	})
	return reminderID, err
}
