// srt-push publishes a file or synthetic frames to a flux SRT listener.
// It is a test publisher for exercising ingest under load.
//
// Usage:
//
//	go run ./test/tools/srt-push --key live/studio-a --file frames.bin
//	go run ./test/tools/srt-push --key live/synthetic --rate 30 --seconds 10
package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	srt "github.com/zsiec/srtgo"
)

const payloadSize = 1316

func main() {
	addrFlag := flag.String("addr", "127.0.0.1:6000", "SRT server address")
	keyFlag := flag.String("key", "live/test", "Stream key")
	fileFlag := flag.String("file", "", "File to push; empty generates synthetic frames")
	rateFlag := flag.Int("rate", 30, "Frames per second for synthetic mode")
	secondsFlag := flag.Int("seconds", 10, "Duration of synthetic push")
	flag.Parse()

	cfg := srt.DefaultConfig()
	cfg.StreamID = *keyFlag
	conn, err := srt.Dial(*addrFlag, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addrFlag, err)
		os.Exit(1)
	}
	defer conn.Close()

	var sent int64
	if *fileFlag != "" {
		sent, err = pushFile(conn, *fileFlag)
	} else {
		sent, err = pushSynthetic(conn, *rateFlag, *secondsFlag)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "push: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("pushed %d bytes as %s\n", sent, *keyFlag)
}

func pushFile(conn *srt.Conn, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var sent int64
	buf := make([]byte, payloadSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return sent, werr
			}
			sent += int64(n)
		}
		if err == io.EOF {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
	}
}

func pushSynthetic(conn *srt.Conn, rate, seconds int) (int64, error) {
	interval := time.Second / time.Duration(rate)
	deadline := time.Now().Add(time.Duration(seconds) * time.Second)

	var sent int64
	buf := make([]byte, payloadSize)
	for time.Now().Before(deadline) {
		rand.Read(buf)
		if _, err := conn.Write(buf); err != nil {
			return sent, err
		}
		sent += int64(len(buf))
		time.Sleep(interval)
	}
	return sent, nil
}
