package main

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"totp-token/go-device/internal/client"
	"totp-token/go-device/internal/config"
	"totp-token/go-device/internal/identity"
	"totp-token/go-device/internal/storage"
	"totp-token/go-device/pkg/models"

	"github.com/spf13/pflag"
)

const (
	exitOK           = 0
	exitInvalidInput = 10
	exitDeviceFailed = 20
	exitRejected     = 30
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitInvalidInput)
	}

	switch os.Args[1] {
	case "nameversion":
		runNameVersion(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	case "add":
		runAdd(os.Args[2:])
	case "del":
		runDel(os.Args[2:])
	case "calc":
		runCalc(os.Args[2:])
	case "reset":
		runReset(os.Args[2:])
	case "backup":
		runBackup(os.Args[2:])
	case "restore":
		runRestore(os.Args[2:])
	case "identity":
		runIdentity(os.Args[2:])
	case "doctor":
		runDoctor(os.Args[2:])
	default:
		printUsage()
		os.Exit(exitInvalidInput)
	}
}

func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ExitOnError)
	device := fs.StringP("device", "d", config.DefaultListen, "device channel multiaddr")
	return fs, device
}

func connect(addr string) *client.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, addr)
	if err != nil {
		writeStderrln(err.Error(), exitDeviceFailed)
	}
	return c
}

func runNameVersion(args []string) {
	fs, device := newFlagSet("nameversion")
	asJSON := fs.Bool("json", false, "emit json")
	_ = fs.Parse(args)

	c := connect(*device)
	defer c.Close()
	nv, err := c.GetNameVersion()
	if err != nil {
		writeStderrln(err.Error(), exitDeviceFailed)
	}
	if *asJSON {
		printJSONOrExit(nv)
		return
	}
	writeStdoutf(exitDeviceFailed, "%s version=%d\n", nv, nv.Version)
}

func runList(args []string) {
	fs, device := newFlagSet("list")
	asJSON := fs.Bool("json", false, "emit json")
	_ = fs.Parse(args)

	c := connect(*device)
	defer c.Close()
	list, err := c.List()
	if err != nil {
		writeStderrln(err.Error(), exitDeviceFailed)
	}
	if *asJSON {
		printJSONOrExit(list)
		return
	}
	for _, r := range list {
		writeStdoutf(exitDeviceFailed, "%2d  %s\n", r.Index, r.Name)
	}
}

func runAdd(args []string) {
	fs, device := newFlagSet("add")
	name := fs.StringP("name", "n", "", "record name (1-32 bytes)")
	secret := fs.StringP("secret", "s", "", "base32 OTP secret (1-32 bytes decoded)")
	digits := fs.Uint8("digits", 6, "code length")
	cfg := fs.Uint8("config", 0, "record config byte")
	_ = fs.Parse(args)

	key, err := decodeBase32(*secret)
	if err != nil {
		writeStderrln("secret: "+err.Error(), exitInvalidInput)
	}
	defer clear(key)

	c := connect(*device)
	defer c.Close()
	if err := c.Add(models.Record{Name: *name, Key: key, Digits: *digits, Config: *cfg}); err != nil {
		writeStderrln(err.Error(), exitRejected)
	}
	writeStdoutln(exitDeviceFailed, "added")
}

func runDel(args []string) {
	fs, device := newFlagSet("del")
	index := fs.IntP("index", "i", -1, "record index")
	name := fs.StringP("name", "n", "", "record name")
	_ = fs.Parse(args)

	if (*index < 0) == (*name == "") {
		writeStderrln("exactly one of --index or --name is required", exitInvalidInput)
	}
	c := connect(*device)
	defer c.Close()
	var err error
	if *name != "" {
		err = c.DeleteByName(*name)
	} else {
		err = c.DeleteAt(*index)
	}
	if err != nil {
		writeStderrln(err.Error(), exitRejected)
	}
	writeStdoutln(exitDeviceFailed, "deleted")
}

func runCalc(args []string) {
	fs, device := newFlagSet("calc")
	index := fs.IntP("index", "i", 0, "record index")
	period := fs.Duration("period", 30*time.Second, "time step length")
	_ = fs.Parse(args)

	if *period < time.Second {
		writeStderrln("period must be at least one second", exitInvalidInput)
	}
	step := uint64(time.Now().Unix() / int64(*period/time.Second))
	c := connect(*device)
	defer c.Close()
	tok, err := c.CalcToken(*index, step)
	if err != nil {
		writeStderrln(err.Error(), exitRejected)
	}
	writeStdoutln(exitDeviceFailed, tok.String())
}

func runReset(args []string) {
	fs, device := newFlagSet("reset")
	yes := fs.Bool("yes", false, "confirm wiping every record on the device")
	_ = fs.Parse(args)

	if !*yes {
		writeStderrln("refusing to reset without --yes", exitInvalidInput)
	}
	c := connect(*device)
	defer c.Close()
	if err := c.Reset(); err != nil {
		writeStderrln(err.Error(), exitRejected)
	}
	writeStdoutln(exitDeviceFailed, "reset")
}

func runBackup(args []string) {
	fs, device := newFlagSet("backup")
	out := fs.StringP("out", "o", "", "file to write the encrypted store to")
	verbose := fs.Bool("verbose", false, "print transfer progress")
	_ = fs.Parse(args)

	if strings.TrimSpace(*out) == "" {
		writeStderrln("--out is required", exitInvalidInput)
	}
	c := connect(*device)
	defer c.Close()
	blob, err := c.GetRecords(progressPrinter(*verbose))
	if err != nil {
		writeStderrln(err.Error(), exitRejected)
	}
	if err := storage.WriteBlob(*out, blob); err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	writeStdoutf(exitDeviceFailed, "wrote %d bytes to %s\n", len(blob), *out)
}

func runRestore(args []string) {
	fs, device := newFlagSet("restore")
	in := fs.StringP("in", "i", "", "encrypted store file written by backup")
	verbose := fs.Bool("verbose", false, "print transfer progress")
	_ = fs.Parse(args)

	blob, err := storage.ReadBlob(*in)
	if err != nil {
		writeStderrln(err.Error(), exitInvalidInput)
	}
	c := connect(*device)
	defer c.Close()
	if err := c.LoadRecords(blob, progressPrinter(*verbose)); err != nil {
		writeStderrln(err.Error(), exitRejected)
	}
	writeStdoutln(exitDeviceFailed, "restored")
}

// runIdentity provisions a fresh device identity and prints its backup phrase.
func runIdentity(args []string) {
	fs := pflag.NewFlagSet("identity", pflag.ExitOnError)
	_ = fs.Parse(args)

	mnemonic, secret, err := identity.NewMnemonic()
	if err != nil {
		writeStderrln(err.Error(), exitDeviceFailed)
	}
	defer secret.Wipe()
	writeStdoutf(exitDeviceFailed, "mnemonic:%s\nfingerprint=%s\n", mnemonic, identity.Fingerprint(secret))
}

func runDoctor(args []string) {
	fs, device := newFlagSet("doctor")
	timeout := fs.Duration("timeout", 5*time.Second, "connection timeout")
	_ = fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	report := client.Doctor(ctx, *device)
	printJSONOrExit(report)
	if !report.Ready {
		os.Exit(exitDeviceFailed)
	}
}

func progressPrinter(verbose bool) func(models.TransferProgress) {
	if !verbose {
		return nil
	}
	return func(p models.TransferProgress) {
		_, _ = fmt.Fprintf(os.Stderr, "%s offset=%d remaining=%d\n", p.Direction, p.Offset, p.Remaining)
	}
}

func decodeBase32(s string) ([]byte, error) {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.TrimRight(s, "="))
}

func printJSONOrExit(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		writeStderrln(err.Error(), exitDeviceFailed)
	}
}

func printUsage() {
	writeStdoutln(exitInvalidInput, "totp-client <command> [flags]")
	writeStdoutln(exitInvalidInput, "commands:")
	writeStdoutln(exitInvalidInput, "  nameversion [--device addr] [--json]")
	writeStdoutln(exitInvalidInput, "  list        [--device addr] [--json]")
	writeStdoutln(exitInvalidInput, "  add         --name n --secret BASE32 [--digits 6] [--config 0]")
	writeStdoutln(exitInvalidInput, "  del         --index i | --name n")
	writeStdoutln(exitInvalidInput, "  calc        --index i [--period 30s]")
	writeStdoutln(exitInvalidInput, "  reset       --yes")
	writeStdoutln(exitInvalidInput, "  backup      --out file [--verbose]")
	writeStdoutln(exitInvalidInput, "  restore     --in file [--verbose]")
	writeStdoutln(exitInvalidInput, "  identity    (prints a new identity mnemonic and its fingerprint)")
	writeStdoutln(exitInvalidInput, "  doctor      [--device addr] [--timeout 5s]")
}

func writeStdoutln(exitCode int, line string) {
	if _, err := fmt.Fprintln(os.Stdout, line); err != nil {
		os.Exit(exitCode)
	}
}

func writeStdoutf(exitCode int, format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stdout, format, args...); err != nil {
		os.Exit(exitCode)
	}
}

func writeStderrln(line string, exitCode int) {
	_, _ = fmt.Fprintln(os.Stderr, line)
	os.Exit(exitCode)
}
