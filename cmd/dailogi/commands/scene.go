package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dailogi/scene-client/internal/dialogue"
	"github.com/dailogi/scene-client/internal/model"
	"github.com/dailogi/scene-client/internal/roster"
	"github.com/dailogi/scene-client/internal/scene"
	"github.com/dailogi/scene-client/internal/stream"
)

var (
	sceneDescription string
	sceneWith        []string
	sceneLength      int
)

var sceneCmd = &cobra.Command{
	Use:   "scene",
	Short: "Stream a new scene",
	Long: `Stream a new scene and print each turn as it is generated.

Every --with flag fills one participant slot with CHARACTER:LLM ids, as
listed by 'dailogi roster'. Two or three participants are required.
Press Ctrl-C to stop the scene.

Examples:
  dailogi scene -d "Two chefs argue over a recipe" --with 1:7 --with 4:9
  dailogi scene -d "A job interview" --with 2:7 --with 3:7 --with 5:8 -n 20`,
	RunE: runScene,
}

func init() {
	sceneCmd.Flags().StringVarP(&sceneDescription, "description", "d", "", "what happens in the scene")
	sceneCmd.Flags().StringArrayVar(&sceneWith, "with", nil, "participant as CHARACTER:LLM (repeatable)")
	sceneCmd.Flags().IntVarP(&sceneLength, "length", "n", scene.DefaultLength, "number of turns (1-50)")
}

func runScene(cmd *cobra.Command, args []string) error {
	form, err := buildForm(sceneDescription, sceneWith, sceneLength)
	if err != nil {
		return err
	}
	req, err := form.Request(scene.DefaultLength)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger()
	b, ctx := newBackend(ctx)

	opts := []stream.ConsumerOption{
		stream.WithNotifier(dialogue.NotifierFunc(func(msg string) {
			fmt.Fprintln(os.Stderr, "!", msg)
		})),
	}
	if rs, err := roster.NewClient(b, log).Load(ctx); err != nil {
		log.Warn("roster unavailable, using fallback names", zap.Error(err))
	} else {
		opts = append(opts, stream.WithRoster(rs))
	}

	consumer := stream.NewConsumer(stream.NewClient(b, log), log, opts...)
	updates, unsubscribe := consumer.Subscribe()
	defer unsubscribe()

	consumer.Start(ctx, req)
	done := make(chan error, 1)
	go func() { done <- consumer.Wait() }()

	t := newTranscript(os.Stdout)
	for {
		select {
		case snap := <-updates:
			if !outputJSON {
				t.render(snap.Messages)
			}
		case err := <-done:
			snap := consumer.Snapshot()
			if outputJSON {
				if err == nil {
					return printJSON(snap.Messages)
				}
			} else {
				t.render(snap.Messages)
				t.finish()
			}
			if err != nil {
				return errors.New(failureMessage(err, snap))
			}
			if ctx.Err() != nil {
				fmt.Fprintln(os.Stderr, "scene stopped")
			}
			return nil
		}
	}
}

// buildForm fills the scene form from command line flags.
func buildForm(description string, with []string, length int) (scene.Form, error) {
	f := scene.Form{Description: description, Length: length}
	if len(with) > scene.SlotCount {
		return f, fmt.Errorf("at most %d participants can take part in a scene", scene.SlotCount)
	}
	for i, w := range with {
		p, err := parseParticipant(w)
		if err != nil {
			return f, err
		}
		f.Slots[i] = scene.Slot{CharacterID: &p.CharacterID, LLMID: &p.LLMID}
	}
	return f, nil
}

// parseParticipant parses "CHARACTER:LLM".
func parseParticipant(s string) (model.ParticipantConfig, error) {
	charPart, llmPart, ok := strings.Cut(s, ":")
	if !ok {
		return model.ParticipantConfig{}, fmt.Errorf("invalid participant %q: want CHARACTER:LLM", s)
	}
	characterID, err := strconv.ParseInt(strings.TrimSpace(charPart), 10, 64)
	if err != nil || characterID <= 0 {
		return model.ParticipantConfig{}, fmt.Errorf("invalid character id in %q", s)
	}
	llmID, err := strconv.ParseInt(strings.TrimSpace(llmPart), 10, 64)
	if err != nil || llmID <= 0 {
		return model.ParticipantConfig{}, fmt.Errorf("invalid llm id in %q", s)
	}
	return model.ParticipantConfig{CharacterID: characterID, LLMID: llmID}, nil
}

func failureMessage(err error, snap stream.Snapshot) string {
	if errors.Is(err, stream.ErrDialogueHalted) && snap.Status.LastError != nil {
		return "dialogue error: " + snap.Status.LastError.Message
	}
	return scene.ErrorMessage(err)
}

// transcript prints messages incrementally. Message content only grows, so
// each render writes what was added since the last one.
type transcript struct {
	w       io.Writer
	printed []int
}

func newTranscript(w io.Writer) *transcript {
	return &transcript{w: w}
}

func (t *transcript) render(messages []model.Message) {
	for i, m := range messages {
		if i >= len(t.printed) {
			if i > 0 {
				fmt.Fprint(t.w, "\n\n")
			}
			fmt.Fprintf(t.w, "%s:\n", m.Name)
			t.printed = append(t.printed, 0)
		}
		if n := t.printed[i]; len(m.Content) > n {
			fmt.Fprint(t.w, m.Content[n:])
			t.printed[i] = len(m.Content)
		}
	}
}

func (t *transcript) finish() {
	if len(t.printed) > 0 {
		fmt.Fprintln(t.w)
	}
}
