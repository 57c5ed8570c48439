//go:build pcap
// +build pcap

// frame-analyse replays UDP-encapsulated mesh frames from a PCAP
// capture through the packet codec and reports per-type counts,
// duplicate identities, and the distinct paths each identity travelled.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/banshee-data/mesh.report/internal/packet"
)

var (
	pcapFile = flag.String("pcap", "", "PCAP file to analyse")
	udpPort  = flag.Int("udp-port", 5683, "UDP port carrying mesh frames")
	jsonOut  = flag.Bool("json", false, "Emit the report as JSON")
	topN     = flag.Int("top", 10, "How many duplicate identities to list")
)

// IdentityReport aggregates the retransmissions of one logical packet.
type IdentityReport struct {
	Hash        string   `json:"hash"`
	Count       int      `json:"count"`
	PayloadType string   `json:"payload_type"`
	Paths       []string `json:"paths"`
}

// AnalysisResult is the full capture summary.
type AnalysisResult struct {
	PCAPFile     string           `json:"pcap_file"`
	TotalFrames  int              `json:"total_frames"`
	Undecodable  int              `json:"undecodable"`
	CountsByType map[string]int   `json:"counts_by_type"`
	Duplicates   []IdentityReport `json:"duplicates"`
}

func main() {
	flag.Parse()

	if *pcapFile == "" {
		log.Fatal("-pcap is required")
	}

	result, err := analyse(*pcapFile, *udpPort)
	if err != nil {
		log.Fatalf("analysis failed: %v", err)
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			log.Fatalf("failed to encode report: %v", err)
		}
		return
	}

	printReport(result)
}

func analyse(path string, port int) (*AnalysisResult, error) {
	handle, err := pcap.OpenOffline(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer handle.Close()

	filterStr := fmt.Sprintf("udp port %d", port)
	if err := handle.SetBPFFilter(filterStr); err != nil {
		return nil, fmt.Errorf("failed to set BPF filter '%s': %w", filterStr, err)
	}

	result := &AnalysisResult{
		PCAPFile:     path,
		CountsByType: make(map[string]int),
	}

	type identity struct {
		count       int
		payloadType string
		paths       map[string]struct{}
	}
	identities := make(map[string]*identity)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for pkt := range packetSource.Packets() {
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}

		result.TotalFrames++

		p, err := packet.Decode(udp.Payload)
		if err != nil {
			result.Undecodable++
			continue
		}
		result.CountsByType[p.PayloadType.String()]++

		hash := packet.IdentityHash(udp.Payload)
		if hash == packet.UnknownHash {
			continue
		}
		id := identities[hash]
		if id == nil {
			id = &identity{payloadType: p.PayloadType.String(), paths: make(map[string]struct{})}
			identities[hash] = id
		}
		id.count++
		if path := packet.PathFromRaw(p.Path); len(path) > 0 {
			id.paths[path.String()] = struct{}{}
		}
	}

	for hash, id := range identities {
		if id.count < 2 {
			continue
		}
		rep := IdentityReport{Hash: hash, Count: id.count, PayloadType: id.payloadType}
		for p := range id.paths {
			rep.Paths = append(rep.Paths, p)
		}
		sort.Strings(rep.Paths)
		result.Duplicates = append(result.Duplicates, rep)
	}

	// Most retransmitted first, hash as tiebreaker for stable output.
	sort.Slice(result.Duplicates, func(i, j int) bool {
		if result.Duplicates[i].Count != result.Duplicates[j].Count {
			return result.Duplicates[i].Count > result.Duplicates[j].Count
		}
		return result.Duplicates[i].Hash < result.Duplicates[j].Hash
	})
	if len(result.Duplicates) > *topN {
		result.Duplicates = result.Duplicates[:*topN]
	}

	return result, nil
}

func printReport(result *AnalysisResult) {
	fmt.Printf("Capture: %s\n", result.PCAPFile)
	fmt.Printf("Frames:  %d (%d undecodable)\n\n", result.TotalFrames, result.Undecodable)

	types := make([]string, 0, len(result.CountsByType))
	for typ := range result.CountsByType {
		types = append(types, typ)
	}
	sort.Strings(types)

	fmt.Println("Frames by payload type:")
	for _, typ := range types {
		fmt.Printf("  %-16s %d\n", typ, result.CountsByType[typ])
	}

	if len(result.Duplicates) == 0 {
		fmt.Println("\nNo duplicate identities observed.")
		return
	}

	fmt.Printf("\nTop retransmitted identities:\n")
	for _, dup := range result.Duplicates {
		fmt.Printf("  %s  x%d  %s\n", dup.Hash, dup.Count, dup.PayloadType)
		for _, p := range dup.Paths {
			fmt.Printf("      via %s\n", p)
		}
	}
}
