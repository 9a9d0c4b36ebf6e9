/*
NAME
  main.go

DESCRIPTION
  tsanalyze is a thin reference harness that reads a transport stream file,
  feeds it through the stream model and the TR 101 290 monitor, and prints
  a final summary. It is a demonstration of how the packages in this module
  compose, not a supported CLI surface.

AUTHOR
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ausocean/tstools/streammodel"
	"github.com/ausocean/tstools/tr101290"
	"github.com/ausocean/tstools/ts"
)

func main() {
	var inPath string
	var logPath string
	flag.StringVar(&inPath, "in", "media.ts", "file path of input transport stream")
	flag.StringVar(&logPath, "alarm-log", "", "optional path to log raised/cleared alarms to")
	flag.Parse()

	clip, err := os.ReadFile(inPath)
	if err != nil {
		log.Fatal(err)
	}

	k, err := ts.Align(clip)
	if err != nil {
		log.Fatal(fmt.Errorf("could not align %s to a packet boundary: %v", inPath, err))
	}
	clip = clip[k:]

	mon, err := tr101290.New(tr101290.Config{LogPath: logPath})
	if err != nil {
		log.Fatal(err)
	}
	defer mon.Close()

	raised := 0
	mon.OnAlarm(func(batch []tr101290.Alarm) {
		for _, a := range batch {
			if a.Raised {
				raised++
			}
			fmt.Printf("%s %s raised=%v pid=%d\n", a.LastChange.Format("15:04:05.000"), a.Event, a.Raised, a.PID)
		}
	})

	model, err := streammodel.New(streammodel.WithSectionCallback(mon.SectionResult))
	if err != nil {
		log.Fatal(err)
	}

	var pkt ts.Packet
	count := 0
	for i := 0; i+ts.PacketSize <= len(clip); i += ts.PacketSize {
		if err := pkt.Parse(clip[i : i+ts.PacketSize]); err != nil {
			continue
		}
		model.Write(&pkt)
		mon.Write(&pkt)
		count++
	}

	snap := model.Snapshot()
	fmt.Printf("\n%d packets read, transport_stream_id=%d, mpts=%v, complete=%v\n",
		count, snap.TransportStreamID, streammodel.IsMPTS(snap), snap.Complete)
	for _, p := range snap.Programs {
		fmt.Printf("  program %d on PID 0x%04x", p.ProgramNumber, p.PID)
		if p.PMT != nil {
			fmt.Printf(": pcr_pid=0x%04x, %d streams", p.PMT.PCRPID, len(p.PMT.Streams))
		}
		fmt.Println()
	}
	fmt.Printf("%d alarms raised during analysis\n", raised)
}
