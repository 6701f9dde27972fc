// Command mp4dump opens an MP4 file and prints its movie, track, chapter,
// and metadata structure.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/nori-av/demux"
)

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// dumpOutput is the full report this command prints, either as indented
// text or as JSON.
type dumpOutput struct {
	Media    demux.MediaInfo      `json:"media"`
	Tracks   []demux.TrackInfo    `json:"tracks"`
	Chapters []demux.Chapter      `json:"chapters,omitempty"`
	Metadata []demux.MetadataEntry `json:"metadata,omitempty"`
}

func main() {
	formatFlag := flag.String("format", "text", "output format: text (default), json")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [--format=text|json] <file.mp4>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	format := FormatText
	switch strings.ToLower(*formatFlag) {
	case "json":
		format = FormatJSON
	case "text":
		format = FormatText
	default:
		fmt.Fprintf(os.Stderr, "unknown format: %s\n", *formatFlag)
		os.Exit(1)
	}

	d, err := demux.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening file: %v\n", err)
		os.Exit(1)
	}
	defer d.Close()

	out := dumpOutput{Media: d.MediaInfo(), Metadata: d.MetadataStrings()}
	for _, id := range d.TrackIDs() {
		info, err := d.TrackInfo(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading track %d: %v\n", id, err)
			os.Exit(1)
		}
		out.Tracks = append(out.Tracks, info)
	}
	chapters, err := d.Chapters()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading chapters: %v\n", err)
		os.Exit(1)
	}
	out.Chapters = chapters

	switch format {
	case FormatJSON:
		printJSON(out)
	default:
		printText(out)
	}
}

func printJSON(out dumpOutput) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "error encoding output: %v\n", err)
		os.Exit(1)
	}
}

func printText(out dumpOutput) {
	m := out.Media
	fmt.Printf("movie: brand=%s timescale=%d duration=%d tracks=%d\n",
		m.MajorBrand, m.TimeScale, m.Duration, m.TrackCount)
	fmt.Printf("  created=%s modified=%s\n", m.CreationTime, m.ModificationTime)

	for _, t := range out.Tracks {
		fmt.Printf("track %d: kind=%s timescale=%d duration=%d samples=%d\n",
			t.ID, t.Kind, t.TimeScale, t.Duration, t.SampleCount)
		switch t.Kind {
		case "video":
			fmt.Printf("  video: %dx%d sps=%d bytes pps=%d bytes\n", t.Width, t.Height, len(t.SPS), len(t.PPS))
		case "audio":
			fmt.Printf("  audio: channels=%d sample_size=%d sample_rate=%d oti=0x%02x\n",
				t.ChannelCount, t.SampleSize, t.SampleRate, t.AudioObjectTypeIndication)
		case "metadata":
			fmt.Printf("  metadata: encoding=%q mime=%q\n", t.ContentEncoding, t.MimeFormat)
		}
		if t.MetadataTrackID != 0 {
			fmt.Printf("  metadata track: %d\n", t.MetadataTrackID)
		}
		if t.ChaptersTrackID != 0 {
			fmt.Printf("  chapters track: %d\n", t.ChaptersTrackID)
		}
	}

	if len(out.Chapters) > 0 {
		fmt.Println("chapters:")
		for _, c := range out.Chapters {
			fmt.Printf("  %10d us  %s\n", c.TimeUs, c.Title)
		}
	}

	if len(out.Metadata) > 0 {
		fmt.Println("metadata:")
		for _, e := range out.Metadata {
			fmt.Printf("  %s = %s\n", e.Key, e.Value)
		}
	}
}
