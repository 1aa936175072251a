// Command gen-posefeed records a synthetic hand stream as a line feed for
// replay with posestream -feed.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/banshee-data/posestream/internal/pose"
	"github.com/banshee-data/posestream/internal/source"
)

func main() {
	output := flag.String("o", "sample.feed", "output path")
	frames := flag.Int("n", 900, "number of frames")
	hz := flag.Float64("hz", 90, "frames per second")
	joints := flag.Int("joints", pose.DefaultJointCount, "joints per frame")
	jitter := flag.Duration("jitter", 2*time.Millisecond, "max random lateness per frame")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("create %s: %v", *output, err)
	}
	w := bufio.NewWriter(f)

	epoch := time.Unix(0, 0).UTC()
	gen := source.NewSynthetic(epoch, *joints, *hz, *seed)
	gen.Frames = *frames
	gen.Jitter = *jitter

	fmt.Fprintf(w, "# posestream synthetic feed: %d frames, %d joints, %.1f Hz, seed %d\n", *frames, *joints, *hz, *seed)
	n, err := record(w, gen, epoch)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		log.Fatalf("write %s: %v", *output, err)
	}
	log.Printf("✓ Created: %s (%d events)", *output, n)
}

func record(w io.Writer, src source.Source, epoch time.Time) (int, error) {
	for n := 0; ; n++ {
		ev, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := source.WriteEvent(w, ev, epoch); err != nil {
			return n, err
		}
	}
}
