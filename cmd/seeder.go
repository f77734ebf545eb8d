package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jccalsado/tuition-portal/internal/core/datamodel/feeitem"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/payment"
	"github.com/jccalsado/tuition-portal/internal/core/datamodel/student"
	"github.com/jccalsado/tuition-portal/internal/core/money"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed the database with sample data for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		gormDB, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init orm: %v", err)
		}

		if clearData {
			for _, table := range []string{"transactions", "gateway_details", "payment_allocations", "payments", "accounts", "fee_items", "students"} {
				if err := gormDB.Exec("TRUNCATE TABLE " + table + " RESTART IDENTITY CASCADE").Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		seedStudents(gormDB, cfg.Promotion.YearLevels)
	},
}

type seedStudent struct {
	number    string
	name      string
	yearLevel string
	fees      []seedFee
}

type seedFee struct {
	term        string
	description string
	amount      string
}

func seedStudents(db *gorm.DB, yearLevels []string) {
	firstLevel := "first_year"
	secondLevel := firstLevel
	if len(yearLevels) > 0 {
		firstLevel = yearLevels[0]
		secondLevel = yearLevels[len(yearLevels)/2]
	}

	students := []seedStudent{
		{
			number:    "2026-00001",
			name:      "Maria Santos",
			yearLevel: firstLevel,
			fees: []seedFee{
				{term: "2026-1", description: "Tuition", amount: "25000.00"},
				{term: "2026-1", description: "Miscellaneous", amount: "3500.00"},
				{term: "2026-1", description: "Laboratory", amount: "1500.00"},
			},
		},
		{
			number:    "2026-00002",
			name:      "Jose Ramirez",
			yearLevel: secondLevel,
			fees: []seedFee{
				{term: "2026-1", description: "Tuition", amount: "25000.00"},
				{term: "2026-1", description: "Miscellaneous", amount: "3500.00"},
			},
		},
	}

	for _, s := range students {
		var exists int64
		db.Model(&student.Student{}).Where("student_number = ?", s.number).Count(&exists)
		if exists > 0 {
			fmt.Println("student already exists, skipping:", s.number)
			continue
		}

		st := &student.Student{
			StudentNumber: s.number,
			Name:          s.name,
			YearLevel:     s.yearLevel,
			Status:        student.StatusEnrolled,
		}
		if err := db.Create(st).Error; err != nil {
			log.Fatalf("failed to seed student %s: %v", s.number, err)
		}

		dueDate := time.Now().AddDate(0, 1, 0)
		for _, f := range s.fees {
			amount := money.MustFromString(f.amount)
			item := &feeitem.FeeItem{
				StudentID:      st.ID,
				Term:           f.term,
				Description:    f.description,
				OriginalAmount: amount,
				AmountPaid:     money.Zero,
				Balance:        amount,
				Status:         feeitem.StatusPending,
				DueDate:        &dueDate,
			}
			if err := db.Create(item).Error; err != nil {
				log.Fatalf("failed to seed fee item for %s: %v", s.number, err)
			}
			charge := &payment.Transaction{
				StudentID:   st.ID,
				FeeItemID:   &item.ID,
				Type:        payment.TransactionTypeCharge,
				Amount:      amount,
				Description: f.description,
			}
			if err := db.Create(charge).Error; err != nil {
				log.Fatalf("failed to seed charge for %s: %v", s.number, err)
			}
		}

		fmt.Println("Seeded student:", s.number, s.name)
	}
}
