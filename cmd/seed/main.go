package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"gorm.io/gorm"

	"github.com/dexra46515/apex-app-shield-sub000/internal/database"
	"github.com/dexra46515/apex-app-shield-sub000/internal/models"
)

// seedHoneypots are common scanner targets that no real client requests.
var seedHoneypots = []models.Honeypot{
	{Name: "wordpress-admin", EndpointPath: "/wp-admin", DecoyContentType: "text/html", DecoyResponse: "<html><body><form>Username <input name=log></form></body></html>", Active: true},
	{Name: "dotenv", EndpointPath: "/.env", DecoyContentType: "text/plain", DecoyResponse: "APP_KEY=base64:ZGVjb3k=\nDB_PASSWORD=changeme\n", Active: true},
	{Name: "git-config", EndpointPath: "/.git/config", DecoyContentType: "text/plain", DecoyResponse: "[core]\n\trepositoryformatversion = 0\n", Active: true},
	{Name: "phpmyadmin", EndpointPath: "/phpmyadmin", DecoyContentType: "text/html", DecoyResponse: "<html><title>phpMyAdmin</title></html>", Active: true},
}

var seedSchemas = []models.APISchema{
	{
		Name: "login", PathPattern: "/api/v1/login", Method: "POST", ContentType: "application/json",
		Schema: `{"type":"object","required":["username","password"]}`, ValidationEnabled: true, Active: true,
	},
}

var seedAdaptive = []models.AdaptiveRule{
	{Name: "scanner-paths", PathPattern: `^/(cgi-bin|boaform|HNAP1)/`, Action: "block", LearningConfidence: 80, Active: true},
	{Name: "headless-clients", UserAgentPattern: `(?i)headlesschrome`, Action: "challenge", LearningConfidence: 60, Active: true},
}

func seed[T any](db *gorm.DB, label string, rows []T, key func(T) (string, interface{})) {
	for _, row := range rows {
		column, value := key(row)
		result := db.Where(column+" = ?", value).FirstOrCreate(&row)
		switch {
		case result.Error != nil:
			log.Printf("Failed to seed %s %v: %v", label, value, result.Error)
		case result.RowsAffected > 0:
			fmt.Printf("✓ Created %s: %v\n", label, value)
		default:
			fmt.Printf("  %s already exists: %v\n", label, value)
		}
	}
}

func main() {
	dbPath := os.Getenv("SHIELD_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join("data", "shield.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatal("Failed to create data directory:", err)
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	fmt.Println("✓ Database migrated successfully")

	seed(db, "honeypot", seedHoneypots, func(h models.Honeypot) (string, interface{}) { return "endpoint_path", h.EndpointPath })
	seed(db, "api schema", seedSchemas, func(s models.APISchema) (string, interface{}) { return "path_pattern", s.PathPattern })
	seed(db, "adaptive rule", seedAdaptive, func(a models.AdaptiveRule) (string, interface{}) { return "name", a.Name })

	if country := os.Getenv("SHIELD_SEED_BLOCK_COUNTRY"); country != "" {
		seed(db, "geo restriction", []models.GeoRestriction{
			{CountryCode: country, RestrictionType: "block", Reason: "seeded", Active: true},
		}, func(g models.GeoRestriction) (string, interface{}) { return "country_code", g.CountryCode })
	}

	fmt.Println("\n✓ Database seeding completed successfully!")
}
