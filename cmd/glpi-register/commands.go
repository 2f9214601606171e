package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/breeze-rmm/glpi-register/internal/glpi"
	"github.com/breeze-rmm/glpi-register/internal/hardware"
	"github.com/breeze-rmm/glpi-register/internal/secmem"
	"github.com/breeze-rmm/glpi-register/internal/submission"
	"github.com/spf13/cobra"
)

// errAlreadyRegistered makes submit exit with exitAlreadyExists after the
// matches were printed.
var errAlreadyRegistered = errors.New("serial already registered")

var (
	loginUser          string
	loginPasswordStdin bool

	overrides submission.Overrides
	force     bool
	dryRun    bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Open a GLPI session",
	Long: `Log in to GLPI with a username and password. With remember_session set,
the session token is kept in the config file for later commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		username := loginUser
		if username == "" {
			username = cfg.Username
		}
		if username == "" {
			return errors.New("no username given; use --username or set username in the config")
		}

		password := secmem.NewSecureString(cfg.Password)
		if loginPasswordStdin {
			pw, err := readPassword(cmd.InOrStdin())
			if err != nil {
				return err
			}
			password = secmem.NewSecureString(pw)
		}
		if password.Empty() {
			return errors.New("no password given; use --password-stdin or GLPI_REGISTER_PASSWORD")
		}
		defer password.Zero()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		s, err := a.sessions.Login(cmd.Context(), glpi.Credentials{Username: username, Password: password})
		if err != nil {
			return err
		}
		a.persist()

		type loginResult struct {
			Username  string    `json:"username" yaml:"username"`
			Server    string    `json:"server" yaml:"server"`
			ExpiresAt time.Time `json:"expiresAt" yaml:"expires_at"`
		}
		res := loginResult{Username: s.Username(), Server: a.sessions.BaseURL(), ExpiresAt: s.ExpiresAt()}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) error {
			fmt.Fprintf(w, "Logged in to %s as %s.\n", res.Server, res.Username)
			fmt.Fprintf(w, "Session valid until %s.\n", res.ExpiresAt.Local().Format(time.DateTime))
			return nil
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the GLPI session and forget the remembered token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		a.resume(cmd.Context())

		err = a.sessions.Logout(cmd.Context())
		if cfg.Session.Token != "" {
			cfg.ClearSession()
			a.save()
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
		return nil
	},
}

var gatherCmd = &cobra.Command{
	Use:   "gather",
	Short: "Show the hardware inventory of this computer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		facts := probe().Gather(cmd.Context())
		return renderFacts(cmd.OutOrStdout(), facts)
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <serial>",
	Short: "Find Computer assets by serial number",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		a.resume(cmd.Context())
		defer a.persist()

		matches, err := a.assets.FindBySerial(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return renderAssets(cmd.OutOrStdout(), a.assets, matches)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Register this computer in GLPI",
	Long: `Gather the hardware inventory, apply the flags given as overrides, and create
a Computer asset. When the serial number is already registered the existing
assets are listed instead and the command exits with status 3.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		facts := probe().Gather(ctx)

		if dryRun {
			p := submission.New(nil, nil, submission.WithDefaultLocation(cfg.DefaultLocation))
			return renderAsset(cmd.OutOrStdout(), p.Asset(facts, overrides))
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		a.resume(ctx)
		defer a.persist()

		p := submission.New(a.assets, a.sessions, submission.WithDefaultLocation(cfg.DefaultLocation))
		res, err := p.Submit(ctx, facts, overrides, submission.Options{Force: force})
		if err != nil {
			return err
		}
		if err := renderSubmission(cmd.OutOrStdout(), a.assets, res); err != nil {
			return err
		}
		if res.Status == submission.StatusAlreadyExists {
			return errAlreadyRegistered
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "GLPI username (default from config)")
	loginCmd.Flags().BoolVar(&loginPasswordStdin, "password-stdin", false, "read the password from stdin")

	f := submitCmd.Flags()
	f.StringVar(&overrides.Name, "name", "", "asset name (default: hostname)")
	f.StringVar(&overrides.Serial, "serial", "", "serial number")
	f.StringVar(&overrides.Manufacturer, "manufacturer", "", "manufacturer")
	f.StringVar(&overrides.Model, "model", "", "model")
	f.StringVar(&overrides.Location, "location", "", "location (default: default_location)")
	f.StringVar(&overrides.Comment, "comment", "", "comment (default: hardware summary)")
	f.StringVar(&overrides.Processor, "processor", "", "processor")
	f.StringSliceVar(&overrides.GraphicCards, "gpu", nil, "graphics card, repeatable")
	f.StringVar(&overrides.Memory, "ram", "", "memory description, e.g. \"16 GB\"")
	f.StringSliceVar(&overrides.HardDrives, "disk", nil, "hard drive description, repeatable")
	f.StringVar(&overrides.OperatingSystem, "os", "", "operating system")
	f.StringVar(&overrides.OSVersion, "os-version", "", "operating system version")
	f.BoolVar(&force, "force", false, "create even when the serial is already registered")
	f.BoolVar(&dryRun, "dry-run", false, "print the asset that would be sent and exit")
}

func probe() *hardware.Probe {
	return hardware.NewProbe(nil, hardware.WithFieldTimeout(cfg.ProbeTimeout))
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
