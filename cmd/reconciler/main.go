package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/example/checkout-fulfillment/internal/email"
	"github.com/example/checkout-fulfillment/internal/infrastructure/kafka"
	"github.com/example/checkout-fulfillment/internal/reconcile"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kafkaBrokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")
	kafkaTopic := getEnv("KAFKA_TOPIC", "fulfillment-events")
	smtpHost := getEnv("SMTP_HOST", "localhost")
	smtpPort := getEnv("SMTP_PORT", "1025")
	emailFrom := getEnv("EMAIL_FROM", "alerts@checkout.example.com")
	opsAddr := getEnv("OPS_EMAIL", "ops@checkout.example.com")

	log.Println("[Reconciler] ========================================")
	log.Println("[Reconciler] Fulfillment Reconciler")
	log.Println("[Reconciler] ========================================")
	log.Printf("[Reconciler] Kafka: %v topic %s", kafkaBrokers, kafkaTopic)
	log.Printf("[Reconciler] Alerts to %s via %s:%s", opsAddr, smtpHost, smtpPort)

	emailSvc := email.NewService(smtpHost, smtpPort, emailFrom)
	handler := reconcile.NewHandler(emailSvc, opsAddr)

	consumer := kafka.NewConsumer(kafkaBrokers, kafkaTopic, "reconciler")
	defer consumer.Close()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("[Reconciler] Shutting down...")
		cancel()
	}()

	if err := consumer.Consume(ctx, handler.HandleMessage); err != nil && ctx.Err() == nil {
		log.Fatalf("[Reconciler] Consumer error: %v", err)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
