package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	errs "igfeed/pkg/errors"
	"igfeed/pkg/identity"
	"igfeed/pkg/instagram"
	"igfeed/pkg/models"
	"igfeed/pkg/ui"
)

var (
	identityUseKeyring bool
	identityInactive   bool
	identityReason     string
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage the scraper identities",
	Long: `Manage the Instagram accounts igfeed logs in with.

A run always uses the first active identity. Identities are deactivated
automatically when a login is refused or throttled; check the notes column of
'igfeed identity list' for the reason.`,
}

var identityAddCmd = &cobra.Command{
	Use:   "add <handle>",
	Short: "Add an identity",
	Long: `Add an identity. The password is read from the terminal without echo, or
from stdin when it is not a terminal.

With --keyring the password is stored in the OS keyring and the database only
keeps a reference to it.`,
	Example: `  igfeed identity add scraper_one --keyring
  echo "$PASSWORD" | igfeed identity add scraper_two`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentityAdd,
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentityList,
}

var identityActivateCmd = &cobra.Command{
	Use:   "activate <handle>",
	Short: "Put an identity back into rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityActivate,
}

var identityDeactivateCmd = &cobra.Command{
	Use:   "deactivate <handle>",
	Short: "Take an identity out of rotation",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityDeactivate,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityAddCmd, identityListCmd, identityActivateCmd, identityDeactivateCmd)

	identityAddCmd.Flags().BoolVar(&identityUseKeyring, "keyring", false, "store the password in the OS keyring")
	identityAddCmd.Flags().BoolVar(&identityInactive, "inactive", false, "add the identity without activating it")
	identityDeactivateCmd.Flags().StringVar(&identityReason, "reason", "deactivated by operator", "note recorded with the deactivation")
}

func runIdentityAdd(cmd *cobra.Command, args []string) error {
	handle := instagram.SanitizeUsername(args[0])
	if !instagram.IsValidUsername(handle) {
		return fmt.Errorf("invalid handle %q", args[0])
	}

	password, err := readPassword(cmd, handle)
	if err != nil {
		return err
	}
	secret := password
	if identityUseKeyring {
		secret, err = identity.StoreSecret(handle, password)
		if err != nil {
			return err
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Migrate(cmd.Context()); err != nil {
		return err
	}

	now := time.Now().UTC()
	id := &models.Identity{
		Handle:    handle,
		Secret:    secret,
		Active:    !identityInactive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateIdentity(cmd.Context(), id); err != nil {
		if errs.IsDuplicate(err) {
			return fmt.Errorf("identity %s already exists; use 'igfeed identity activate %s'", handle, handle)
		}
		return err
	}

	ui.PrintSuccess(fmt.Sprintf("Added identity %s (id %d)", handle, id.ID))
	if identityUseKeyring {
		ui.PrintInfo("Password", "stored in the OS keyring")
	}
	return nil
}

func runIdentityList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ids, err := st.ListIdentities(cmd.Context())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		ui.PrintWarning("No identities. Add one with 'igfeed identity add <handle>'")
		return nil
	}
	ui.RenderIdentities(os.Stdout, ids)
	return nil
}

func runIdentityActivate(cmd *cobra.Command, args []string) error {
	return updateIdentity(cmd, args[0], func(id *models.Identity, now time.Time) {
		identity.Activate(id, now)
	}, "activated")
}

func runIdentityDeactivate(cmd *cobra.Command, args []string) error {
	return updateIdentity(cmd, args[0], func(id *models.Identity, now time.Time) {
		identity.Deactivate(id, identityReason, now)
	}, "deactivated")
}

func updateIdentity(cmd *cobra.Command, handle string, mutate func(*models.Identity, time.Time), verb string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.GetIdentity(cmd.Context(), instagram.SanitizeUsername(handle))
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return fmt.Errorf("identity %s does not exist", handle)
		}
		return err
	}
	mutate(id, time.Now())
	if err := st.Update(cmd.Context(), id); err != nil {
		return err
	}

	log.WithField("identity", id.Handle).Info("Identity " + verb)
	ui.PrintSuccess(fmt.Sprintf("Identity %s %s", id.Handle, verb))
	return nil
}

// readPassword prompts on a terminal and reads one line otherwise
func readPassword(cmd *cobra.Command, handle string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", handle)
		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return checkPassword(string(pw))
	}

	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return checkPassword(strings.TrimRight(line, "\r\n"))
}

func checkPassword(pw string) (string, error) {
	if pw == "" {
		return "", errors.New("password cannot be empty")
	}
	return pw, nil
}
