package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gproductions/cardsagainst/internal/carddeck"
	appcfg "github.com/gproductions/cardsagainst/internal/config"
	"github.com/gproductions/cardsagainst/internal/coordinator"
	"github.com/gproductions/cardsagainst/internal/history"
	"github.com/gproductions/cardsagainst/internal/matchdoc"
	"github.com/gproductions/cardsagainst/internal/matchstore"
	"github.com/gproductions/cardsagainst/internal/obslog"
	"github.com/gproductions/cardsagainst/internal/userstore"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connect error: %v", err)
	}

	store := matchstore.NewRedisStore(rdb)
	users := userstore.New(rdb)

	var catalog carddeck.Catalog
	if cfg.CatalogBaseURL != "" {
		catalog = carddeck.NewHTTPCatalog(cfg.CatalogBaseURL, carddeck.WithTimeout(5*time.Second))
	} else {
		rc := carddeck.NewRedisCatalog(rdb)
		if cfg.DeckFile != "" {
			lang, err := carddeck.SeedFromFile(ctx, rc, cfg.DeckFile)
			if err != nil {
				log.Fatalf("deck seed error: %v", err)
			}
			if cfg.Language == "" {
				cfg.Language = lang
			}
		}
		catalog = rc
	}

	nickname := strings.TrimSpace(os.Getenv("NICKNAME"))
	if nickname == "" {
		log.Fatalf("NICKNAME is required")
	}
	uid := strings.TrimSpace(os.Getenv("PLAYER_ID"))
	if uid == "" {
		uid = uuid.NewString()
	}
	if err := users.ClaimNickname(ctx, nickname, uid); err != nil {
		log.Fatalf("nickname error: %v", err)
	}
	user := matchdoc.User{UID: uid, Nickname: nickname}
	if existing, err := users.Get(ctx, uid); err == nil {
		user = *existing
	} else if err := users.Save(ctx, &user); err != nil {
		log.Fatalf("user save error: %v", err)
	}

	coord := coordinator.New(store, users, catalog, cfg.Rules, user, printEvents{})
	defer coord.Close()

	if cfg.DatabaseURL != "" {
		repo, err := history.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("history repo init error: %v", err)
		}
		defer repo.Close()
		coord.AttachArchive(repo)
	}

	if m, err := coord.Resume(ctx); err != nil {
		log.Printf("resume error: %v", err)
	} else if m != nil {
		fmt.Printf("resumed into %q (%s)\n", m.Name, m.Phase())
	}

	fmt.Printf("playing as %s (%s)\n", nickname, uid)
	repl(ctx, coord, cfg.Language)
}

func repl(ctx context.Context, coord *coordinator.Coordinator, language string) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		args := strings.Fields(sc.Text())
		if len(args) > 0 {
			if err := dispatch(ctx, coord, language, args); err != nil {
				if args[0] == "quit" {
					return
				}
				fmt.Printf("error: %v\n", err)
			}
		}
		fmt.Print("> ")
	}
}

func dispatch(ctx context.Context, coord *coordinator.Coordinator, language string, args []string) error {
	switch args[0] {
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("usage: create <name> <rounds> [passkey]")
		}
		rounds, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("rounds: %w", err)
		}
		passkey := ""
		if len(args) > 3 {
			passkey = args[3]
		}
		if err := coord.CreateMatch(ctx, args[1], language, passkey, rounds); err != nil {
			return err
		}
		return coord.WatchLobby(ctx)
	case "list":
		matches, err := coord.ListJoinable(ctx, language)
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			fmt.Println("no joinable matches")
		}
		for _, m := range matches {
			locked := ""
			if m.Passkey != "" {
				locked = " [passkey]"
			}
			fmt.Printf("%s  %d players, %d rounds%s\n", m.Name, len(m.Players), m.Rounds, locked)
		}
		return nil
	case "join":
		if len(args) < 2 {
			return fmt.Errorf("usage: join <name> [passkey]")
		}
		passkey := ""
		if len(args) > 2 {
			passkey = args[2]
		}
		if err := coord.JoinMatch(ctx, args[1], passkey); err != nil {
			return err
		}
		return coord.WatchLobby(ctx)
	case "start":
		if err := coord.Start(ctx); err != nil {
			return err
		}
		return coord.EnterDistributing(ctx)
	case "ready":
		return coord.EnterDistributing(ctx)
	case "play":
		return coord.WatchPlay(ctx)
	case "hand":
		m := coord.Match()
		if m == nil {
			return coordinator.ErrNoMatch
		}
		fmt.Printf("black: %s\n", m.BlackCard.Text)
		for i, card := range m.Hands[coord.User().UID] {
			fmt.Printf("%2d: %s\n", i, card.Text)
		}
		return nil
	case "choose":
		picks := make([]int, 0, len(args)-1)
		for _, a := range args[1:] {
			n, err := strconv.Atoi(a)
			if err != nil {
				return fmt.Errorf("hand position: %w", err)
			}
			picks = append(picks, n)
		}
		return coord.SubmitChoice(ctx, picks)
	case "choices":
		m := coord.Match()
		if m == nil {
			return coordinator.ErrNoMatch
		}
		for uid, cards := range m.Choices {
			texts := make([]string, len(cards))
			for i, c := range cards {
				texts[i] = c.Text
			}
			fmt.Printf("%s: %s\n", uid, strings.Join(texts, " / "))
		}
		return nil
	case "pick":
		if len(args) < 2 {
			return fmt.Errorf("usage: pick <player-id>")
		}
		final, err := coord.ElectWinner(ctx, args[1])
		if err != nil {
			return err
		}
		if final {
			fmt.Println("that was the last round")
			return nil
		}
		return coord.EnterDistributing(ctx)
	case "finish":
		reward, err := coord.FinishGame(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("reward: %.2f\n", reward)
		return nil
	case "score":
		m := coord.Match()
		if m == nil {
			return coordinator.ErrNoMatch
		}
		for uid, pts := range m.Points {
			fmt.Printf("%s: %d\n", uid, pts)
		}
		return nil
	case "leave":
		return coord.Leave(ctx)
	case "quit":
		return fmt.Errorf("bye")
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// printEvents renders lifecycle notifications on stdout.
type printEvents struct{}

func (printEvents) MatchCreated(m *matchdoc.Match) {
	fmt.Printf("\n* created %q, waiting for players\n> ", m.Name)
}
func (printEvents) MatchJoined(m *matchdoc.Match) {
	fmt.Printf("\n* joined %q\n> ", m.Name)
}
func (printEvents) PlayersChanged(m *matchdoc.Match) {
	fmt.Printf("\n* players: %s\n> ", strings.Join(m.Players, ", "))
}
func (printEvents) MatchStarted(m *matchdoc.Match) {
	fmt.Printf("\n* match started, %d rounds (type 'ready')\n> ", m.Rounds)
}
func (printEvents) DistributionDone(m *matchdoc.Match) {
	fmt.Printf("\n* round %d dealt, black card: %s\n> ", m.Round, m.BlackCard.Text)
}
func (printEvents) ChoicesUpdated(m *matchdoc.Match) {
	fmt.Printf("\n* choices in: %d of %d\n> ", len(m.Choices), len(m.Players)-1)
}
func (printEvents) RoundResolved(m *matchdoc.Match) {
	fmt.Printf("\n* round %d winner: %s\n> ", m.Round, m.Winner)
}
func (printEvents) GameEnded(m *matchdoc.Match, reward float64) {
	fmt.Printf("\n* game over, reward %.2f\n> ", reward)
}
func (printEvents) MatchGone() {
	fmt.Print("\n* match was closed\n> ")
}
func (printEvents) Error(err error) {
	fmt.Printf("\n* error: %v\n> ", err)
}
