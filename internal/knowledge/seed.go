package knowledge

import (
	"context"
	"fmt"
	"io"
	"os"

	"guest-concierge/internal/models"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedFile is the YAML layout of KNOWLEDGE_SEED_FILE.
type SeedFile struct {
	Properties []SeedProperty `yaml:"properties"`
}

type SeedProperty struct {
	models.Property `yaml:",inline"`
	FAQs            []models.FAQ `yaml:"faqs"`
	Staff           []SeedStaff  `yaml:"staff"`
}

type SeedStaff struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Phone  string `yaml:"phone"`
	Role   string `yaml:"role"`
	Active *bool  `yaml:"active"`
}

// SeedResult counts what a seed run wrote.
type SeedResult struct {
	Properties int
	FAQs       int
	Staff      int
}

// LoadSeedFile reads and applies a seed file.
func LoadSeedFile(ctx context.Context, db *gorm.DB, path string) (SeedResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return SeedResult{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Seed(ctx, db, f)
}

// Seed upserts properties and staff and replaces each property's FAQs.
func Seed(ctx context.Context, db *gorm.DB, r io.Reader) (SeedResult, error) {
	var file SeedFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		return SeedResult{}, fmt.Errorf("parse seed file: %w", err)
	}

	var res SeedResult
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sp := range file.Properties {
			prop := sp.Property
			if prop.ID == "" || prop.Name == "" {
				return fmt.Errorf("seed property needs id and name")
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&prop).Error; err != nil {
				return fmt.Errorf("upsert property %s: %w", prop.ID, err)
			}
			res.Properties++

			if err := tx.Where("property_id = ?", prop.ID).Delete(&models.FAQ{}).Error; err != nil {
				return err
			}
			for _, faq := range sp.FAQs {
				faq.ID = 0
				faq.PropertyID = prop.ID
				if err := tx.Create(&faq).Error; err != nil {
					return fmt.Errorf("create faq: %w", err)
				}
				res.FAQs++
			}

			for _, ss := range sp.Staff {
				staff := models.Staff{
					ID:         ss.ID,
					PropertyID: prop.ID,
					Name:       ss.Name,
					Phone:      ss.Phone,
					Role:       ss.Role,
					Active:     ss.Active == nil || *ss.Active,
				}
				if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&staff).Error; err != nil {
					return fmt.Errorf("upsert staff %s: %w", ss.Name, err)
				}
				res.Staff++
			}
		}
		return nil
	})
	return res, err
}
