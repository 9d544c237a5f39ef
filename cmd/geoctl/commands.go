package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/caarlos0/env/v6"
	"golang.org/x/term"

	"github.com/patric-chuzhbe/geoplaces/pkg/client"
)

const usage = `usage: geoctl [-server URL] [-session FILE] <command> [arguments]

commands:
  register -name NAME -email EMAIL   create an account (password is prompted)
  login -email EMAIL                 start a session (password is prompted)
  logout                             end the session
  me                                 show the current account
  list                               list your locations
  get ID                             show one location
  add -name NAME -lat LAT -lng LNG   add a location
  update ID [-name N] [-lat L] [-lng L]
  delete ID                          delete a location
  import FILE.zip                    import locations from an archive
`

var errUsage = errors.New("invalid usage")

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

// isTerminal is a test seam for term.IsTerminal.
var isTerminal = term.IsTerminal

type settings struct {
	Server      string `env:"GEOCTL_SERVER" envDefault:"http://localhost:4000"`
	SessionFile string `env:"GEOCTL_SESSION"`
}

type cli struct {
	client *client.Client
	in     *bufio.Reader
	out    io.Writer
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".geoctl-session.json"
	}

	return filepath.Join(dir, "geoctl", "session.json")
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	cfg := settings{}
	if err := env.Parse(&cfg); err != nil {
		return err
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile()
	}

	global := flag.NewFlagSet("geoctl", flag.ContinueOnError)
	global.SetOutput(stdout)
	global.Usage = func() { fmt.Fprint(stdout, usage) }
	global.StringVar(&cfg.Server, "server", cfg.Server, "server base URL")
	global.StringVar(&cfg.SessionFile, "session", cfg.SessionFile, "file the session is kept in")
	if err := global.Parse(args); err != nil {
		return err
	}

	if global.NArg() == 0 {
		global.Usage()
		return errUsage
	}

	session, err := client.LoadSession(cfg.SessionFile)
	if err != nil {
		return err
	}

	c := &cli{
		client: client.New(cfg.Server, session),
		in:     bufio.NewReader(stdin),
		out:    stdout,
	}

	return c.dispatch(ctx, global.Arg(0), global.Args()[1:])
}

func (c *cli) dispatch(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return c.register(ctx, args)
	case "login":
		return c.login(ctx, args)
	case "logout":
		if err := c.client.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "Logged out")
		return nil
	case "me":
		usr, err := c.client.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%d\t%s\t%s\n", usr.ID, usr.Name, usr.Email)
		return nil
	case "list":
		return c.list(ctx)
	case "get":
		return c.get(ctx, args)
	case "add":
		return c.add(ctx, args)
	case "update":
		return c.update(ctx, args)
	case "delete":
		return c.delete(ctx, args)
	case "import":
		return c.importArchive(ctx, args)
	}

	fmt.Fprint(c.out, usage)
	return fmt.Errorf("%w: unknown command %q", errUsage, command)
}

func (c *cli) password() (string, error) {
	fmt.Fprint(c.out, "Password: ")

	fd := int(os.Stdin.Fd())
	if isTerminal(fd) {
		pw, err := readPassword(fd)
		fmt.Fprintln(c.out)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}

	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}

	return strings.TrimRight(line, "\r\n"), nil
}

func (c *cli) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(c.out)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := c.password()
	if err != nil {
		return err
	}

	usr, err := c.client.Register(ctx, *name, *email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Registered %s (id %d)\n", usr.Email, usr.ID)

	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(c.out)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := c.password()
	if err != nil {
		return err
	}

	usr, err := c.client.Login(ctx, *email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Logged in as %s\n", usr.Email)

	return nil
}

func (c *cli) list(ctx context.Context) error {
	locations, err := c.client.ListLocations(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tLAT\tLNG\tCREATED")
	for _, location := range locations {
		fmt.Fprintf(
			tw,
			"%d\t%s\t%.6f\t%.6f\t%s\n",
			location.ID,
			location.Name,
			location.Lat,
			location.Lng,
			location.CreatedAt.Format("2006-01-02 15:04"),
		)
	}

	return tw.Flush()
}

func parseID(args []string) (int64, []string, error) {
	if len(args) == 0 {
		return 0, nil, fmt.Errorf("%w: location id is required", errUsage)
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %q is not a location id", errUsage, args[0])
	}

	return id, args[1:], nil
}

func (c *cli) printLocation(location *client.Location) error {
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(location)
}

func (c *cli) get(ctx context.Context, args []string) error {
	id, _, err := parseID(args)
	if err != nil {
		return err
	}

	location, err := c.client.GetLocation(ctx, id)
	if err != nil {
		return err
	}

	return c.printLocation(location)
}

func (c *cli) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	fs.SetOutput(c.out)
	name := fs.String("name", "", "location name")
	lat := fs.Float64("lat", 0, "latitude")
	lng := fs.Float64("lng", 0, "longitude")
	if err := fs.Parse(args); err != nil {
		return err
	}

	location, err := c.client.CreateLocation(ctx, *name, *lat, *lng)
	if err != nil {
		return err
	}

	return c.printLocation(location)
}

func (c *cli) update(ctx context.Context, args []string) error {
	id, rest, err := parseID(args)
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	fs.SetOutput(c.out)
	name := fs.String("name", "", "new name")
	lat := fs.Float64("lat", 0, "new latitude")
	lng := fs.Float64("lng", 0, "new longitude")
	if err := fs.Parse(rest); err != nil {
		return err
	}

	patch := client.LocationPatch{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			patch.Name = name
		case "lat":
			patch.Lat = lat
		case "lng":
			patch.Lng = lng
		}
	})

	location, err := c.client.UpdateLocation(ctx, id, patch)
	if err != nil {
		return err
	}

	return c.printLocation(location)
}

func (c *cli) delete(ctx context.Context, args []string) error {
	id, _, err := parseID(args)
	if err != nil {
		return err
	}

	if err := c.client.DeleteLocation(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted %d\n", id)

	return nil
}

func (c *cli) importArchive(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: archive path is required", errUsage)
	}

	file, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer file.Close()

	result, err := c.client.ImportArchive(ctx, filepath.Base(args[0]), file)
	if err != nil {
		return err
	}
	fmt.Fprintf(
		c.out,
		"Imported %d of %d rows (%d invalid)\n",
		result.Inserted,
		result.TotalParsed,
		result.InvalidRows,
	)

	return nil
}
