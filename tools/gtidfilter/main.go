// gtidfilter filters a textual GTID stream on stdin the way a replication
// applier would: start/stop windows per domain plus do/ignore lists over
// domain and server ids. Included GTIDs go to stdout, deferred warnings to
// stderr once the stream ends.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/maxpert/gtidstate/filter"
	"github.com/maxpert/gtidstate/gtid"
)

const version = "0.1.0"

func main() {
	fs := flag.NewFlagSet("gtidfilter", flag.ExitOnError)

	var (
		startPos        = fs.String("start", "", "Start position(s), comma-separated GTIDs; events up to and including each are excluded")
		stopPos         = fs.String("stop", "", "Stop position(s), comma-separated GTIDs; each stop event is the last one included for its domain")
		doDomainIDs     = fs.String("do-domain-ids", "", "Comma-separated domain ids to include (whitelist)")
		ignoreDomainIDs = fs.String("ignore-domain-ids", "", "Comma-separated domain ids to exclude (blacklist)")
		doServerIDs     = fs.String("do-server-ids", "", "Comma-separated server ids to include (whitelist)")
		ignoreServerIDs = fs.String("ignore-server-ids", "", "Comma-separated server ids to exclude (blacklist)")
		strictMode      = fs.Bool("strict", false, "Treat out-of-order sequence numbers as suspicious in warnings")
		showVersion     = fs.Bool("version", false, "Print version and exit")
	)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "gtidfilter - filter a GTID stream from stdin\n\nUsage:\n  gtidfilter [options] < gtid-list.txt\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *showVersion {
		fmt.Printf("gtidfilter version %s\n", version)
		return
	}

	f, err := buildFilter(*startPos, *stopPos, *doDomainIDs, *ignoreDomainIDs, *doServerIDs, *ignoreServerIDs, *strictMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid filter configuration: %v\n", err)
		os.Exit(1)
	}

	if err := run(f, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Filtering failed: %v\n", err)
		os.Exit(1)
	}

	f.WriteWarnings(os.Stderr)
}

// buildFilter assembles the composite filter from the flag values. Domain
// windows and id lists go into a domain filter; server id lists into a server
// filter; both are intersected when present.
func buildFilter(startPos, stopPos, doDomains, ignoreDomains, doServers, ignoreServers string, strict bool) (filter.Filter, error) {
	domainFilter := filter.NewDomainFilter()
	domainFilter.SetStrictMode(strict)
	domainUsed := false

	if startPos != "" {
		list, err := gtid.ParseList(startPos)
		if err != nil {
			return nil, fmt.Errorf("bad start position: %w", err)
		}
		for _, g := range list {
			if err := domainFilter.AddStartGTID(g); err != nil {
				return nil, err
			}
		}
		domainUsed = true
	}
	if stopPos != "" {
		list, err := gtid.ParseList(stopPos)
		if err != nil {
			return nil, fmt.Errorf("bad stop position: %w", err)
		}
		for _, g := range list {
			if err := domainFilter.AddStopGTID(g); err != nil {
				return nil, err
			}
		}
		domainUsed = true
	}
	if doDomains != "" {
		ids, err := parseIDList(doDomains)
		if err != nil {
			return nil, fmt.Errorf("bad do-domain-ids: %w", err)
		}
		if err := domainFilter.SetWhitelist(ids); err != nil {
			return nil, err
		}
		domainUsed = true
	}
	if ignoreDomains != "" {
		ids, err := parseIDList(ignoreDomains)
		if err != nil {
			return nil, fmt.Errorf("bad ignore-domain-ids: %w", err)
		}
		if err := domainFilter.SetBlacklist(ids); err != nil {
			return nil, err
		}
		domainUsed = true
	}

	serverFilter := filter.NewServerFilter()
	serverUsed := false
	if doServers != "" {
		ids, err := parseIDList(doServers)
		if err != nil {
			return nil, fmt.Errorf("bad do-server-ids: %w", err)
		}
		if err := serverFilter.SetWhitelist(ids); err != nil {
			return nil, err
		}
		serverUsed = true
	}
	if ignoreServers != "" {
		ids, err := parseIDList(ignoreServers)
		if err != nil {
			return nil, fmt.Errorf("bad ignore-server-ids: %w", err)
		}
		if err := serverFilter.SetBlacklist(ids); err != nil {
			return nil, err
		}
		serverUsed = true
	}

	switch {
	case domainUsed && serverUsed:
		return filter.NewIntersecting(domainFilter, serverFilter), nil
	case serverUsed:
		return serverFilter, nil
	default:
		return domainFilter, nil
	}
}

func parseIDList(raw string) ([]uint32, error) {
	parts := strings.Split(raw, ",")
	ids := make([]uint32, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", part, err)
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}

// run streams GTIDs line by line, writing the ones the filter keeps. Lines
// may carry several comma-separated GTIDs; blank lines are skipped. Once the
// filter reports it is finished the rest of the stream is dropped without
// parsing overhead beyond the line scan.
func run(f filter.Filter, in *os.File, out *os.File) error {
	scanner := bufio.NewScanner(in)
	w := bufio.NewWriter(out)
	defer w.Flush()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if f.HasFinished() {
			break
		}
		list, err := gtid.ParseList(line)
		if err != nil {
			return err
		}
		for _, g := range list {
			if f.Exclude(g) {
				continue
			}
			if _, err := fmt.Fprintln(w, g.String()); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}
