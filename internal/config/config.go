package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Remote collaborators
	ParserURL  string
	CatalogURL string

	// Speech services
	AssemblyAIKey string
	DeepgramKey   string
	ElevenLabsKey string

	// Telephony
	TwilioAuthToken string

	// Receipt storage
	SupabaseURL    string
	SupabaseKey    string
	SupabaseBucket string

	// Dialogue behavior
	PreferredVoice string
	AutoPresent    bool

	// Optional shared secret for /session and /call
	AuthPassword string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	parserURL := os.Getenv("PARSER_URL")
	if parserURL == "" {
		parserURL = "http://localhost:5000/parse-voice"
	}
	catalogURL := os.Getenv("CATALOG_URL")
	if catalogURL == "" {
		catalogURL = "https://fakestoreapi.com/products"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - server-side transcription will not work")
	}
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if deepgramKey == "" && elevenKey == "" {
		log.Println("Warning: no TTS key set - server-side synthesis will not work")
	}

	twilioToken := os.Getenv("TWILIO_AUTH_TOKEN")
	if twilioToken == "" {
		log.Println("Warning: TWILIO_AUTH_TOKEN not set - phone webhooks are unauthenticated")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	supabaseBucket := os.Getenv("SUPABASE_BUCKET")
	if supabaseBucket == "" {
		supabaseBucket = "receipts"
	}
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: Supabase not configured - receipts will not be persisted")
	}

	voice := os.Getenv("PREFERRED_VOICE")
	if voice == "" {
		voice = "samantha"
	}

	autoPresent := true
	if v := os.Getenv("AUTO_PRESENT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			autoPresent = b
		}
	}

	log.Printf("config: HTTP_ADDRESS=%s PARSER_URL=%s", addr, parserURL)
	return Config{
		HTTPAddress:     addr,
		ParserURL:       parserURL,
		CatalogURL:      catalogURL,
		AssemblyAIKey:   assemblyAIKey,
		DeepgramKey:     deepgramKey,
		ElevenLabsKey:   elevenKey,
		TwilioAuthToken: twilioToken,
		SupabaseURL:     supabaseURL,
		SupabaseKey:     supabaseKey,
		SupabaseBucket:  supabaseBucket,
		PreferredVoice:  voice,
		AutoPresent:     autoPresent,
		AuthPassword:    os.Getenv("AUTH_PASSWORD"),
	}
}
