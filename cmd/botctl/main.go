// botctl - служебная утилита оператора
//
//	botctl -user <id>            разовая сверка всех ботов пользователя
//	botctl -bots id1,id2         разовая сверка выбранных ботов
//	botctl -hash-password <pwd>  bcrypt hash для METRICS_PASSWORD_HASH
//	botctl -gen-key              ключ для ENCRYPTION_KEY
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"

	"botdash/internal/config"
	"botdash/internal/liveness"
	"botdash/internal/models"
	"botdash/internal/repository"
	"botdash/pkg/crypto"
	"botdash/pkg/utils"
)

func main() {
	var (
		userID       = flag.String("user", "", "reconcile all bots of the user")
		botIDs       = flag.String("bots", "", "comma-separated bot ids to reconcile")
		hashPassword = flag.String("hash-password", "", "print bcrypt hash of the password and exit")
		genKey       = flag.Bool("gen-key", false, "print a new ENCRYPTION_KEY and exit")
		timeout      = flag.Duration("timeout", 15*time.Second, "overall reconciliation timeout")
	)
	flag.Parse()

	switch {
	case *genKey:
		key, err := crypto.GenerateKeyString()
		if err != nil {
			fail("generate key: %v", err)
		}
		fmt.Println(key)

	case *hashPassword != "":
		hash, err := crypto.HashPassword(*hashPassword)
		if err != nil {
			fail("hash password: %v", err)
		}
		fmt.Println(hash)

	case *userID != "" || *botIDs != "":
		if err := reconcile(*userID, splitList(*botIDs), *timeout); err != nil {
			fail("%v", err)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func reconcile(userID string, ids []string, timeout time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{Level: "warn", Format: "text"})
	defer logger.Sync()

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	repo := repository.NewBotRepository(db)
	bots, err := loadBots(repo, userID, ids)
	if err != nil {
		return err
	}
	if len(bots) == 0 {
		fmt.Println("no bots found")
		return nil
	}

	lc := cfg.Liveness
	httpCfg := liveness.DefaultHTTPClientConfig()
	httpCfg.RequestRate = lc.RequestRate
	httpCfg.RequestBurst = lc.RequestBurst
	hc := liveness.NewHTTPClient(httpCfg)
	defer hc.Close()

	botAPI := liveness.NewBotAPIClient(hc, lc.APIUsername, lc.ProbeTimeout, logger.Logger)
	deps := liveness.Dependencies{
		Router:     liveness.NewExchangeRouter(botAPI, lc.CandidateDomains, lc.StalenessThreshold(), lc.ProbeTimeout, logger.Logger),
		Deployment: liveness.NewOrchestratorClient(hc, lc.OrchestratorURL, lc.OrchestratorToken, lc.ProbeTimeout, logger.Logger),
		Trades:     botAPI,
		Control:    botAPI,
		Store:      repo,
	}
	opts := liveness.Options{
		Threshold:    lc.StalenessThreshold(),
		PollInterval: lc.PollInterval,
		StopGrace:    lc.StopGrace,
		DeployHold:   lc.DeployHold,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	states := make([]models.ReconciledBotState, len(bots))
	var wg sync.WaitGroup
	for i, bot := range bots {
		wg.Add(1)
		go func(i int, bot *models.BotConfig) {
			defer wg.Done()
			engine := liveness.NewEngine(bot.Identity(), "botctl", deps, opts, logger.Logger)
			defer engine.Dispose()
			states[i] = engine.Resolve(ctx)
		}(i, bot)
	}
	wg.Wait()

	printStates(bots, states)
	return nil
}

func loadBots(repo *repository.BotRepository, userID string, ids []string) ([]*models.BotConfig, error) {
	if len(ids) == 0 {
		bots, err := repo.GetByUser(userID)
		if err != nil {
			return nil, fmt.Errorf("list bots of %s: %w", userID, err)
		}
		return bots, nil
	}

	bots := make([]*models.BotConfig, 0, len(ids))
	for _, id := range ids {
		bot, err := repo.GetByID(id)
		if err != nil {
			utils.Warn("bot skipped", utils.BotID(id), zap.Error(err))
			continue
		}
		if userID != "" && bot.UserID != userID {
			continue
		}
		bots = append(bots, bot)
	}
	return bots, nil
}

func printStates(bots []*models.BotConfig, states []models.ReconciledBotState) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Bot", "Strategy", "Status", "Phase", "Ready", "Heartbeat", "Open trades", "Domain", "Error")

	for i, st := range states {
		table.Append(
			bots[i].ID,
			bots[i].Strategy,
			string(st.LiveStatus),
			string(st.DeploymentPhase),
			strconv.FormatBool(st.Ready),
			formatAge(st.HeartbeatAgeSeconds),
			formatCount(st.OpenTradeCount),
			st.ExchangeBinding,
			st.LastError,
		)
	}

	table.Render()
}

func formatAge(age *int64) string {
	if age == nil {
		return "-"
	}
	return (time.Duration(*age) * time.Second).String()
}

func formatCount(n *int) string {
	if n == nil {
		return "-"
	}
	return strconv.Itoa(*n)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "botctl: "+format+"\n", args...)
	os.Exit(1)
}
