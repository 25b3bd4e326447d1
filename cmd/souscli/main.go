// Command souscli is a terminal voice client for the Sous server. It captures
// microphone audio, streams it to a /listen session, and plays the agent's
// replies through the default output device.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shgupte/sous/pkg/audio"
	"github.com/shgupte/sous/pkg/audio/capture"
	pacapture "github.com/shgupte/sous/pkg/audio/capture/portaudio"
	paplayback "github.com/shgupte/sous/pkg/audio/playback/portaudio"
	"github.com/shgupte/sous/pkg/voice"
)

func main() {
	os.Exit(run())
}

func run() int {
	serverURL := flag.String("server", "ws://localhost:8080", "base WebSocket URL of the sous server")
	userID := flag.String("user", "", "user id")
	recipeID := flag.String("recipe", "", "recipe id to cook")
	flag.Parse()

	if *userID == "" || *recipeID == "" {
		fmt.Fprintln(os.Stderr, "souscli: -user and -recipe are required")
		return 2
	}
	endpoint := fmt.Sprintf("%s/listen/%s/%s",
		strings.TrimRight(*serverURL, "/"), *userID, *recipeID)

	format := audio.DefaultFormat()
	player := paplayback.New(format, paplayback.WithStatusFunc(func(playing bool) {
		if playing {
			fmt.Println("· agent speaking…")
		}
	}))
	defer player.Close()

	ctrl := voice.NewController(
		func() capture.Source { return pacapture.New() },
		player,
		voice.WithFormat(format),
	)
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Printf("souscli — session %s / %s\n", *userID, *recipeID)
	fmt.Println("commands: connect, record, stop, status, events, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return 0
		}

		switch strings.TrimSpace(scanner.Text()) {
		case "connect":
			if err := ctrl.Connect(ctx, endpoint); err != nil {
				fmt.Fprintf(os.Stderr, "connect: %v\n", err)
				continue
			}
			fmt.Println("connected to", endpoint)

		case "record":
			if err := ctrl.StartRecording(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "record: %v\n", err)
				continue
			}
			fmt.Println("recording — type 'stop' to end the turn")

		case "stop":
			if err := ctrl.StopRecording(); err != nil {
				fmt.Fprintf(os.Stderr, "stop: %v\n", err)
			}

		case "status":
			fmt.Println("state:", ctrl.State())

		case "events":
			for _, ev := range ctrl.Events() {
				fmt.Printf("%s  [%s] %s\n", ev.Time.Format("15:04:05"), ev.Kind, ev.Message)
			}
			ctrl.ClearEvents()

		case "quit", "exit":
			ctrl.Disconnect()
			return 0

		case "":

		default:
			fmt.Println("commands: connect, record, stop, status, events, quit")
		}
	}
}
