package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/flowfc-progression/internal/domain"
	"github.com/flowfc-progression/internal/kafka"
)

var playerNames = []string{
	"Striker", "Maestro", "Wall", "Rocket", "Falcon", "Magician", "Panther", "Captain", "Engine", "Wizard",
	"Cannon", "Shadow", "Comet", "Bull", "Arrow", "Phantom", "Tiger", "Spider", "Hammer", "Lightning",
}

var positions = []string{"GK", "DEF", "MID", "FWD"}

func playerID(idx int) string {
	return fmt.Sprintf("player-%04d", idx)
}

func playerName(idx int) string {
	return fmt.Sprintf("%s%d", playerNames[idx%len(playerNames)], idx/len(playerNames)+1)
}

// randomStat returns a plausible match performance for the player at idx.
// Goalkeepers make saves, forwards score.
func randomStat(rng *rand.Rand, idx int, matchID string, date time.Time) domain.RawStatRecord {
	position := positions[idx%len(positions)]
	playtime := 45 + rng.Intn(46)

	r := domain.RawStatRecord{
		PlayerID:        playerID(idx),
		MatchID:         matchID,
		Passes:          10 + rng.Intn(60),
		Tackles:         rng.Intn(6),
		PlaytimeMinutes: playtime,
		Rating:          math.Round((5+rng.Float64()*5)*10) / 10,
		Date:            date.Format(domain.DateLayout),
	}
	switch position {
	case "GK":
		r.Saves = rng.Intn(8)
	case "DEF":
		r.Tackles += rng.Intn(5)
		r.Goals = boolToInt(rng.Intn(10) == 0)
	case "MID":
		r.Assists = rng.Intn(3)
		r.Goals = rng.Intn(2)
		r.Shots = rng.Intn(4)
	case "FWD":
		r.Goals = rng.Intn(4)
		r.Assists = rng.Intn(2)
		r.Shots = r.Goals + rng.Intn(5)
	}
	return r
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// registerPlayers creates the simulated players through the HTTP API.
// Players that already exist are skipped.
func registerPlayers(apiURL string, total int) error {
	client := &http.Client{Timeout: 5 * time.Second}
	for i := 0; i < total; i++ {
		body, err := json.Marshal(domain.Player{
			ID:       playerID(i),
			Username: playerName(i),
			Position: positions[i%len(positions)],
		})
		if err != nil {
			return err
		}
		req, err := http.NewRequest(http.MethodPost, strings.TrimRight(apiURL, "/")+"/api/v1/players", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Caller-ID", "stat-producer")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("registering %s: %w", playerID(i), err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
			return fmt.Errorf("registering %s: unexpected status %d", playerID(i), resp.StatusCode)
		}
	}
	return nil
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "stat-records", "Kafka topic")
	totalPlayers := flag.Int("players", 100, "Number of simulated players")
	updatesPerSecond := flag.Int("rate", 20, "Stat records per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	apiURL := flag.String("register", "", "Register players through this API base URL first (e.g. http://localhost:8080)")
	callerID := flag.String("caller", "stat-producer", "Caller identity attached to every message")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	if *totalPlayers <= 0 || *updatesPerSecond <= 0 {
		log.Fatal("players and rate must be positive")
	}

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Flow FC Stat Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Players:          %d\n", *totalPlayers)
	fmt.Printf("  Records/sec:      %d\n", *updatesPerSecond)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	if *apiURL != "" {
		fmt.Printf("Registering %d players at %s...\n", *totalPlayers, *apiURL)
		if err := registerPlayers(*apiURL, *totalPlayers); err != nil {
			log.Fatalf("Failed to register players: %v", err)
		}
		fmt.Println("✓ Players registered")
	}

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdown := func(reason string) {
		fmt.Printf("\n\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n", atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	rng := rand.New(rand.NewSource(*seed))
	interval := time.Second / time.Duration(*updatesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var sent int64
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached")
				return
			}

			idx := rng.Intn(*totalPlayers)
			matchID := fmt.Sprintf("match-%d", sent/10)
			data, err := json.Marshal(kafka.StatMessage{
				RawStatRecord: randomStat(rng, idx, matchID, time.Now().UTC()),
				CallerID:      *callerID,
			})
			if err != nil {
				log.Printf("Failed to marshal message: %v", err)
				continue
			}

			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(playerID(idx)),
				Value: sarama.ByteEncoder(data),
			}
			sent++

		case <-statsTicker.C:
			fmt.Printf("[%s] Generated: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				sent,
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
