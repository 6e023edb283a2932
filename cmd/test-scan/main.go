// Command test-scan is a manual test for the BLE adapter and advertisement
// decoding. It scans for the given duration and prints every advertiser
// once, marking those that list the target service.
// Press Ctrl+C to stop early.
//
// Usage:
//
//	go run ./cmd/test-scan [--service 0x152C] [--duration 10s] [--all]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/chaz8081/basestation/internal/adv"
	"github.com/chaz8081/basestation/internal/ble"
)

func main() {
	service := flag.String("service", "0x152C", "16-bit service UUID to look for")
	duration := flag.Duration("duration", 10*time.Second, "how long to scan")
	all := flag.Bool("all", false, "print every advertisement, not only the first per address")
	flag.Parse()

	target, err := strconv.ParseUint(*service, 0, 16)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --service %q: %v\n", *service, err)
		os.Exit(1)
	}

	adapter := ble.NewTinyGoAdapter(uint16(target))
	if err := adapter.Enable(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelScan := context.WithTimeout(ctx, *duration)
	defer cancelScan()

	fmt.Printf("Scanning for %v, looking for service 0x%04X...\n", *duration, target)

	seen := make(map[string]bool)
	matches := 0
	err = adapter.Scan(ctx, ble.ScanOptions{Active: true}, func(a ble.Advertisement) {
		if seen[a.Address] && !*all {
			return
		}
		seen[a.Address] = true

		report := adv.Report(a.Payload)
		mark := "   "
		if report.HasServiceUUID16(uint16(target)) {
			mark = ">>>"
			matches++
		}
		name := a.Name
		if name == "" {
			name = report.LocalName()
		}
		uuids, _ := report.ServiceUUIDs16()
		fmt.Printf("%s %s  %4d dBm  %-20q uuids=%04X  raw=%s\n", mark, a.Address, a.RSSI, name, uuids, report.Printable())
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Done. %d advertisers, %d with service 0x%04X.\n", len(seen), matches, target)
}
