package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codegirlMaya1/shopperAssistant/internal/catalog"
	"github.com/codegirlMaya1/shopperAssistant/internal/config"
	"github.com/codegirlMaya1/shopperAssistant/internal/dialogue"
	"github.com/codegirlMaya1/shopperAssistant/internal/httpserver"
	"github.com/codegirlMaya1/shopperAssistant/internal/parser"
	"github.com/codegirlMaya1/shopperAssistant/internal/phone"
	"github.com/codegirlMaya1/shopperAssistant/internal/rtc"
	"github.com/codegirlMaya1/shopperAssistant/internal/store"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	products := loadCatalog(cfg.CatalogURL)
	cat := catalog.New(products)

	parserClient := parser.NewClient(cfg.ParserURL)
	recorder := buildRecorder(cfg)

	var rtcHandler *rtc.Handler
	if cfg.AssemblyAIKey != "" && (cfg.DeepgramKey != "" || cfg.ElevenLabsKey != "") {
		rtcHandler = &rtc.Handler{
			AssemblyAIKey: cfg.AssemblyAIKey,
			DeepgramKey:   cfg.DeepgramKey,
			ElevenLabsKey: cfg.ElevenLabsKey,
			Parser:        parserClient,
			Catalog:       cat,
			Recorder:      recorder,
			AutoPresent:   cfg.AutoPresent,
		}
	} else {
		log.Println("rtc disabled: missing ASSEMBLYAI_API_KEY or a TTS key")
	}

	var phoneSvc *phone.Service
	if cfg.TwilioAuthToken != "" {
		phoneSvc = phone.New(phone.Config{
			AuthToken:   cfg.TwilioAuthToken,
			Parser:      parserClient,
			Catalog:     cat,
			Recorder:    recorder,
			AutoPresent: cfg.AutoPresent,
		})
	}

	srv := httpserver.New(httpserver.Config{
		Catalog:      cat,
		Parser:       parserClient,
		Recorder:     recorder,
		RTC:          rtcHandler,
		Phone:        phoneSvc,
		VoicePrefs:   []string{cfg.PreferredVoice, "female", ""},
		AutoPresent:  cfg.AutoPresent,
		AuthPassword: cfg.AuthPassword,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// loadCatalog fetches the storefront products once at startup. A failed fetch
// leaves the catalog empty rather than blocking boot.
func loadCatalog(url string) []catalog.Product {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	products, err := catalog.NewClient(url).Fetch(ctx)
	if err != nil {
		log.Printf("catalog fetch failed, starting empty: %v", err)
		return nil
	}
	log.Printf("catalog loaded: %d products", len(products))
	return products
}

// buildRecorder wires receipt persistence when Supabase is configured.
func buildRecorder(cfg config.Config) dialogue.CheckoutRecorder {
	if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
		return nil
	}
	uploader, err := store.NewSupabaseUploader(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket)
	if err != nil {
		log.Printf("supabase client failed, using rest uploader: %v", err)
		return store.NewReceiptStore(store.NewHTTPUploader(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket))
	}
	return store.NewReceiptStore(uploader)
}
