package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
)

// changeEvent mirrors the data-change message the trigger consumer reads.
type changeEvent struct {
	Type       string  `json:"type"`
	UserEmail  string  `json:"userEmail"`
	DistanceKm float64 `json:"distanceKm,omitempty"`
	RecordedAt string  `json:"recordedAt,omitempty"`
	Nickname   string  `json:"nickname,omitempty"`
}

var runnerNames = []string{
	"Dash", "Stride", "Pace", "Sprint", "Trail", "Cadence", "Tempo", "Marathon",
	"Jogger", "Swift", "Breeze", "Comet", "Rocket", "Gazelle", "Cheetah", "Falcon",
}

func runnerEmail(idx int) string {
	name := runnerNames[idx%len(runnerNames)]
	return fmt.Sprintf("%s%d@example.com", strings.ToLower(name), idx/len(runnerNames)+1)
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "runhub-changes", "Kafka topic")
	totalRunners := flag.Int("runners", 100, "Number of distinct runners")
	recordsPerSecond := flag.Int("rate", 10, "Running records per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Printf("Run record producer: brokers=%s topic=%s runners=%d rate=%d/s\n",
		*brokers, *topic, *totalRunners, *recordsPerSecond)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

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

	done := make(chan struct{})

	sendEvent := func(ev changeEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("Failed to marshal event: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(ev.UserEmail),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
		}
	}

	interval := time.Second / time.Duration(*recordsPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	shutdown := func(reason string) {
		fmt.Printf("\n%s\n", reason)
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	var sent int64
	for {
		select {
		case <-sigChan:
			shutdown("Shutting down...")
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				shutdown("Duration reached, shutting down...")
				return
			}

			idx := rand.Intn(*totalRunners)
			// Runs cluster between 1 and 15 km with two decimal precision.
			distance := float64(rand.Intn(1400)+100) / 100.0
			sendEvent(changeEvent{
				Type:       "running_record_created",
				UserEmail:  runnerEmail(idx),
				DistanceKm: distance,
				RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
				Nickname:   runnerNames[idx%len(runnerNames)],
			})
			atomic.AddInt64(&sent, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Records: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&sent),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
