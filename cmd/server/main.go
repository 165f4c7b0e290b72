package main

import (
	"context"
	"log"

	"github.com/sexxyrexxy/mycelium-sub000/internal/api"
	"github.com/sexxyrexxy/mycelium-sub000/internal/broadcast"
	"github.com/sexxyrexxy/mycelium-sub000/internal/cache"
	"github.com/sexxyrexxy/mycelium-sub000/internal/database"
	"github.com/sexxyrexxy/mycelium-sub000/internal/gateway"
	"github.com/sexxyrexxy/mycelium-sub000/internal/ingest"
	"github.com/sexxyrexxy/mycelium-sub000/internal/models"
	"github.com/sexxyrexxy/mycelium-sub000/internal/mqtt"
	"github.com/sexxyrexxy/mycelium-sub000/internal/rangecache"
	"github.com/sexxyrexxy/mycelium-sub000/pkg/config"
)

const mirrorBuffer = 256

func main() {
	log.Println("Starting Mycelium Signal Backbone...")

	cfg := config.Load()

	// Durable store
	db, err := database.NewClickHouseDB(
		cfg.ClickHouseAddr,
		cfg.ClickHouseDB,
		cfg.ClickHouseUser,
		cfg.ClickHousePass,
	)
	if err != nil {
		log.Fatalf("Failed to initialize ClickHouse: %v", err)
	}
	defer db.Close()

	// Broadcast bus
	bus := broadcast.NewBus()
	defer bus.Close()

	// Context for background services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional Redis recent-sample cache
	var recent *cache.RecentSampleCache
	if cfg.RedisAddr != "" {
		recent, err = cache.NewRecentSampleCache(cfg.RedisAddr, cfg.RecentCap, cfg.RecentTTL)
		if err != nil {
			log.Fatalf("Failed to initialize Redis: %v", err)
		}
		defer recent.Close()
	} else {
		log.Println("Recent cache disabled (REDIS_ADDR not set)")
	}

	// Ingestion pacer
	var recentSink ingest.RecentCache
	if recent != nil {
		recentSink = recent
	}
	pacer := ingest.NewPacer(db, bus, recentSink, cfg.PaceInterval)

	// Streaming gateway
	hub := gateway.NewHub(bus, cfg.Heartbeat)

	// Range cache over the durable store
	ranges := rangecache.New(api.NewStoreFetch(db), rangecache.Config{
		TTL:         cfg.RangeTTL,
		PointBudget: cfg.PointBudget,
	})

	// Optional MQTT bridge for live sensor readings
	if cfg.MQTTBroker != "" {
		log.Println("Connecting to MQTT broker...")
		mqttClient, err := mqtt.NewClient(mqtt.ClientConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
		})
		if err != nil {
			log.Fatalf("Failed to initialize MQTT client: %v", err)
		}
		defer mqttClient.Close()

		liveIngestor := ingest.NewLiveIngestor(db, bus, recentSink, db, 100)
		subscriber := mqtt.NewSubscriber(
			mqttClient.Native(),
			mqtt.SubscriberConfig{ReadingTopic: cfg.MQTTReadingTopic},
			liveIngestor.Readings,
		)
		if err := subscriber.Subscribe(); err != nil {
			log.Fatalf("Failed to subscribe to MQTT topics: %v", err)
		}
		go liveIngestor.Start(ctx)

		// Mirror the broadcast stream back out over MQTT
		mirrorChan := make(chan models.BroadcastMessage, mirrorBuffer)
		if err := bus.Subscribe("mqtt-mirror", "", mirrorChan); err != nil {
			log.Fatalf("Failed to subscribe MQTT mirror: %v", err)
		}
		publisher := mqtt.NewPublisher(
			mqttClient.Native(),
			mqtt.PublisherConfig{StreamTopic: cfg.MQTTStreamTopic},
			mirrorChan,
		)
		go publisher.Start(ctx)

		log.Printf("MQTT bridge active (reading topic: %s)", cfg.MQTTReadingTopic)
	} else {
		log.Println("MQTT bridge disabled (MQTT_BROKER not set)")
	}

	server := api.NewServer(db, pacer, hub, ranges, recentReader(recent), cfg)

	log.Printf("Pace interval: %v, heartbeat: %v, range TTL: %v",
		cfg.PaceInterval, cfg.Heartbeat, cfg.RangeTTL)

	if err := server.Run(cfg.HTTPAddr); err != nil {
		log.Fatal(err)
	}
}

// recentReader keeps the api.RecentReader nil when Redis is disabled; a nil
// *RecentSampleCache in a non-nil interface would dodge the handler's check.
func recentReader(c *cache.RecentSampleCache) api.RecentReader {
	if c == nil {
		return nil
	}
	return c
}
