package main

import (
	"fmt"
	"log/slog"
	"os"

	"i3gw/gateway/internal/persist"
	"i3gw/gateway/internal/state"
)

// Version is the gateway's release string, reported by the "version" and
// "status" subcommands. It is not sent in startup-req-3 (other_data is
// empty there).
const Version = "0.1.0"

// splitCLIDBFlag pulls an optional leading "-state-db <path>" (or
// "--state-db <path>") pair out of the raw CLI arguments and returns the
// remaining positional arguments alongside the resolved database path, so
// "i3gateway -state-db foo.db status" and "i3gateway status" both work
// without a full flag.FlagSet for the CLI subcommand path.
func splitCLIDBFlag(args []string) (rest []string, dbPath string) {
	dbPath = "i3gateway.db"
	rest = args
	if len(args) >= 2 && (args[0] == "-state-db" || args[0] == "--state-db") {
		dbPath = args[1]
		rest = args[2:]
	}
	return rest, dbPath
}

// RunCLI handles subcommand execution against the persisted-state database
// without starting the gateway's network listeners. Returns true if a
// subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	subcmd := args[0]
	switch subcmd {
	case "version":
		fmt.Printf("i3gateway %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "mudlist":
		return cliMudlist(dbPath)
	case "channels":
		return cliChannels(dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	default:
		return false
	}
}

func openPersist(dbPath string) (*persist.Store, persist.State, bool) {
	ps, err := persist.Open(dbPath, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening state db: %v\n", err)
		os.Exit(1)
	}
	st, err := ps.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading state: %v\n", err)
		ps.Close()
		os.Exit(1)
	}
	return ps, st, true
}

// directory rebuilds an in-memory state.Store from a persisted snapshot so
// the CLI can report the mudlist/chanlist the way a running gateway would,
// without opening any router connection.
func directory(st persist.State) *state.Store {
	s := state.New(nil, st.MudlistID, st.ChanlistID)
	if len(st.LastMudlist) > 0 {
		s.ApplyMudlistDelta(st.MudlistID, st.LastMudlist)
	}
	if len(st.LastChanlist) > 0 {
		s.ApplyChanlistDelta(st.ChanlistID, st.LastChanlist)
	}
	return s
}

func cliStatus(dbPath string) bool {
	ps, st, _ := openPersist(dbPath)
	defer ps.Close()

	dir := directory(st)
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("State database: %s\n", dbPath)
	fmt.Printf("Mudlist id: %d\n", st.MudlistID)
	fmt.Printf("Chanlist id: %d\n", st.ChanlistID)
	fmt.Printf("Known muds: %d\n", len(dir.GetMudlist()))
	fmt.Printf("Known channels: %d\n", len(dir.GetChannels()))
	fmt.Printf("Router passwords on file: %d\n", len(st.RouterPasswords))
	return true
}

func cliMudlist(dbPath string) bool {
	ps, st, _ := openPersist(dbPath)
	defer ps.Close()

	muds := directory(st).GetMudlist()
	if len(muds) == 0 {
		fmt.Println("No muds in the persisted directory.")
		return true
	}
	for _, m := range muds {
		fmt.Printf("  %-20s state=%-4d ip=%s player_port=%d\n", m.Name, m.State, m.IP, m.PlayerPort)
	}
	return true
}

func cliChannels(dbPath string) bool {
	ps, st, _ := openPersist(dbPath)
	defer ps.Close()

	chans := directory(st).GetChannels()
	if len(chans) == 0 {
		fmt.Println("No channels in the persisted directory.")
		return true
	}
	for _, c := range chans {
		fmt.Printf("  %-20s host=%-20s type=%d listeners=%d\n", c.Name, c.HostMud, c.Type, len(c.Listeners))
	}
	return true
}

func cliBackup(args []string, dbPath string) bool {
	ps, _, _ := openPersist(dbPath)
	defer ps.Close()

	outPath := "i3gateway-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}

	if err := ps.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("State database backed up to %s\n", outPath)
	return true
}
