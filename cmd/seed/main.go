package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kevin07696/fee-reconciliation/internal/adapters/postgres"
	"github.com/kevin07696/fee-reconciliation/internal/config"
	"github.com/kevin07696/fee-reconciliation/internal/domain"
)

// Seeded IDs are name-based so re-running the seed finds what it created
var seedNamespace = uuid.MustParse("6f1d3c2a-93b4-4d0e-8a57-1c2b0f9e4d11")

func seedID(parts ...string) uuid.UUID {
	name := ""
	for _, p := range parts {
		name += "/" + p
	}
	return uuid.NewSHA1(seedNamespace, []byte(name))
}

type demoStudent struct {
	name      string
	admission string
	guardian  string
	phone     string
	invoices  []int64 // minor units
}

var demoStudents = []demoStudent{
	{"Amani Otieno", "4471", "Grace Otieno", "+254712345678", []int64{4500000}},
	{"Wanjiru Kamau", "4472", "Peter Kamau", "+254722000111", []int64{3800000, 1200000}},
	{"Baraka Mwangi", "4473", "Lucy Mwangi", "+254733222333", []int64{4500000}},
	{"Achieng Odhiambo", "4474", "Tom Odhiambo", "+254700444555", []int64{2600000}},
	{"Kipchoge Ruto", "4475", "Mary Ruto", "+254711666777", nil},
}

func main() {
	school := flag.String("school", "Hillcrest Academy", "institution name")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.Database.ConnectionString()), logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	store := postgres.NewStore(pool, logger)

	institutionID := seedID(*school)
	bankAccountID := seedID(*school, "bank")
	integrations := []domain.Integration{
		{
			ID:                seedID(*school, "mpesa_c2b"),
			InstitutionID:     institutionID,
			BankAccountID:     bankAccountID,
			Name:              "M-Pesa paybill 522522",
			Provider:          domain.ProviderMpesaC2B,
			Currency:          "KES",
			IsActive:          true,
			BankAccountActive: true,
		},
		{
			ID:                seedID(*school, "generic"),
			InstitutionID:     institutionID,
			BankAccountID:     bankAccountID,
			Name:              "Bank transfer webhook",
			Provider:          domain.ProviderGeneric,
			Currency:          "KES",
			IsActive:          true,
			BankAccountActive: true,
		},
	}
	for _, integ := range integrations {
		if err := store.CreateIntegration(ctx, integ, *school); err != nil {
			logger.Fatal("Failed to create integration", zap.String("integration", integ.Name), zap.Error(err))
		}
	}

	created := 0
	for _, ds := range demoStudents {
		rec := buildStudent(institutionID, ds)
		if _, err := store.Directory().GetFeeAccount(ctx, rec.FeeAccount.ID); err == nil {
			continue
		} else if !domain.IsNotFoundError(err) {
			logger.Fatal("Failed to look up student", zap.String("admission", ds.admission), zap.Error(err))
		}
		if err := store.CreateStudent(ctx, rec); err != nil {
			logger.Fatal("Failed to create student", zap.String("admission", ds.admission), zap.Error(err))
		}
		created++
	}

	fmt.Println("Seed complete")
	fmt.Printf("  institution:   %s (%s)\n", *school, institutionID)
	for _, integ := range integrations {
		fmt.Printf("  integration:   %-22s %s  POST /webhooks/%s\n", integ.Provider, integ.Name, integ.ID)
	}
	fmt.Printf("  students:      %d created, %d already present\n", created, len(demoStudents)-created)
	fmt.Println()
	fmt.Println("Try:")
	fmt.Printf(`  curl -X POST localhost:8080/webhooks/%s -d '{"TransID":"QK71ABC123","TransAmount":"45000.00","BillRefNumber":"4471","MSISDN":"254712345678","FirstName":"GRACE","LastName":"OTIENO"}'`+"\n",
		integrations[0].ID)
}

func buildStudent(institutionID uuid.UUID, ds demoStudent) domain.StudentRecord {
	studentID := seedID(institutionID.String(), "student", ds.admission)
	acct := domain.FeeAccount{
		ID:            seedID(institutionID.String(), "account", ds.admission),
		InstitutionID: institutionID,
		StudentID:     studentID,
		AccountNumber: "FA-" + ds.admission,
		Currency:      "KES",
		UpdatedAt:     time.Now().UTC(),
	}
	rec := domain.StudentRecord{
		Student: domain.Student{
			ID:              studentID,
			InstitutionID:   institutionID,
			AdmissionNumber: ds.admission,
			FullName:        ds.name,
		},
		Guardians: []domain.Guardian{{
			ID:        seedID(institutionID.String(), "guardian", ds.admission),
			StudentID: studentID,
			FullName:  ds.guardian,
			PhoneE164: ds.phone,
		}},
	}

	for i, amount := range ds.invoices {
		due := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0)
		rec.OpenInvoices = append(rec.OpenInvoices, domain.Invoice{
			ID:               seedID(institutionID.String(), "invoice", ds.admission, fmt.Sprint(i)),
			InstitutionID:    institutionID,
			StudentID:        studentID,
			FeeAccountID:     acct.ID,
			BillingReference: fmt.Sprintf("INV-2026-%s-%d", ds.admission, i+1),
			AmountMinor:      amount,
			BalanceMinor:     amount,
			Status:           domain.InvoiceStatusOpen,
			DueDate:          &due,
		})
		acct.TotalBilledMinor += amount
	}
	acct.BalanceMinor = acct.TotalBilledMinor
	rec.FeeAccount = acct
	return rec
}
