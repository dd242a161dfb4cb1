package main

import (
	"bufio"
	"flag"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/poiesic/convoy/provider/export"
	"github.com/spf13/afero"
)

var prompts = []string{
	"How do I cancel a goroutine that is blocked on a channel send?",
	"What is the difference between a mutex and a read-write mutex?",
	"Can you explain how sourdough starter keeps yeast alive?",
	"Write a haiku about a lighthouse in a storm.",
	"Why does my bread collapse after the second rise?",
	"Summarize the causes of the 1929 stock market crash.",
	"How should I structure a Go project with several binaries?",
	"What are good stretches after a long run?",
	"Explain reciprocal rank fusion in plain terms.",
	"Plan a three day hiking trip in the Dolomites.",
	"How do vector databases find nearest neighbours quickly?",
	"What is a reasonable retry policy for a flaky HTTP API?",
	"Translate 'the train leaves at noon' into Italian.",
	"Suggest names for a cat that likes to sit on keyboards.",
	"How does SQLite full text search rank results?",
	"What wine pairs with mushroom risotto?",
}

var replies = []string{
	"Select on the send together with ctx.Done() so the goroutine can return when the context is canceled.",
	"A read-write mutex lets many readers proceed at once while writers still get exclusive access.",
	"Regular feeding with flour and water keeps the wild yeast and bacteria active and outcompeting mold.",
	"Beam sweeps the black sea / waves climb the iron stairway / the lamp does not blink.",
	"Over-proofing weakens the gluten network, so shorten the second rise or lower the temperature.",
	"Speculation on margin, weak banks, and falling demand combined into a sudden loss of confidence.",
	"Put each binary under cmd/ and share the library code from packages at the module root.",
	"Try calf, hamstring, and hip flexor stretches, holding each for about thirty seconds.",
	"Each list contributes one over k plus rank for every item, and items are sorted by the sum.",
	"Day one Seceda ridge, day two the Puez plateau, day three down to Val Gardena.",
	"They build graph or cluster indexes so a query only compares against a small candidate set.",
	"Use exponential backoff with jitter and cap both the delay and the number of attempts.",
	"Il treno parte a mezzogiorno.",
	"Qwerty, Ctrl, Pixel, or simply Laptop.",
	"FTS5 uses bm25 by default, weighting rare terms and shorter documents higher.",
	"An earthy Nebbiolo or a white Burgundy both work well with mushrooms.",
}

var (
	outDir        = flag.String("out", "./export", "directory to write conversation files to")
	seedFileName  = flag.String("src", "", "file of seed prompts, one per line")
	conversations = flag.Int("conversations", 25, "number of conversations to generate")
	turns         = flag.Int("turns", 3, "user turns per conversation")
	seed          = flag.Uint64("seed", 1, "random seed")
)

func init() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: slog.LevelInfo,
	})))
}

// linesFromFile returns an iterator over the non-empty lines in a file.
func linesFromFile(filename string) (iter.Seq[string], error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	return func(yield func(string) bool) {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if !yield(line) {
				return
			}
		}
	}, nil
}

// cycle repeats lines forever.
func cycle(lines []string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			for _, line := range lines {
				if !yield(line) {
					return
				}
			}
		}
	}
}

// generate builds n conversations of the given number of turns, drawing
// user prompts from source.
func generate(source iter.Seq[string], n, turns int, rng *rand.Rand) []*export.ConversationFile {
	next, stop := iter.Pull(source)
	defer stop()

	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	docs := make([]*export.ConversationFile, 0, n)
	for i := range n {
		created := base.Add(time.Duration(rng.IntN(365*24)) * time.Hour)
		doc := &export.ConversationFile{
			ID:        uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "convoy-seed-%d", i)).String(),
			CreatedAt: created,
		}
		parent := ""
		at := created
		for turn := range turns {
			prompt, ok := next()
			if !ok {
				break
			}
			if turn == 0 {
				doc.Title = prompt
			}
			userID := fmt.Sprintf("m%d", 2*turn)
			doc.Messages = append(doc.Messages, export.MessageFile{
				ID: userID, ParentID: parent, Role: "user", Content: prompt, CreatedAt: at,
			})
			at = at.Add(time.Duration(5+rng.IntN(60)) * time.Second)
			replyID := fmt.Sprintf("m%d", 2*turn+1)
			doc.Messages = append(doc.Messages, export.MessageFile{
				ID: replyID, ParentID: userID, Role: "assistant",
				Content: replies[rng.IntN(len(replies))], CreatedAt: at,
			})
			parent = replyID
			at = at.Add(time.Duration(1+rng.IntN(30)) * time.Minute)
		}
		if len(doc.Messages) == 0 {
			break
		}
		doc.UpdatedAt = at
		docs = append(docs, doc)
	}
	return docs
}

func main() {
	flag.Parse()

	source := cycle(prompts)
	if *seedFileName != "" {
		lines, err := linesFromFile(*seedFileName)
		if err != nil {
			slog.Error("failed to open seed file", "file", *seedFileName, "err", err)
			os.Exit(1)
		}
		source = lines
	}

	rng := rand.New(rand.NewPCG(*seed, *seed))
	fs := afero.NewOsFs()
	docs := generate(source, *conversations, *turns, rng)
	for _, doc := range docs {
		if err := export.Write(fs, *outDir, doc); err != nil {
			slog.Error("failed to write conversation", "id", doc.ID, "err", err)
			os.Exit(1)
		}
	}
	slog.Info("export written", "dir", *outDir, "conversations", len(docs))
}
