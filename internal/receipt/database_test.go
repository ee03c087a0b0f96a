package receipt

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"

	"github.com/zombor/shoebox/internal/duplicate"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	receiptWith := func(id, owner, amount string) *Receipt {
		return &Receipt{
			ID:              id,
			OwnerID:         owner,
			Title:           "Receipt " + id,
			Amount:          money(amount),
			DuplicateStatus: DuplicateNone,
			CreatedAt:       time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		}
	}

	ids := func(receipts []*Receipt) []string {
		out := make([]string, 0, len(receipts))
		for _, r := range receipts {
			out = append(out, r.ID)
		}
		return out
	}

	Describe("SaveReceipt and GetReceipt", func() {
		var receipt *Receipt

		BeforeEach(func() {
			receipt = receiptWith("test-id", "alice", "25.99")
			receipt.Merchant = "Starbucks KLCC"
			receipt.Date = "2024-01-15"
			receipt.Items = []duplicate.Item{{Name: "Latte", Quantity: 1, Price: 25.99}}
			receipt.DuplicateStatus = DuplicateDetected
			receipt.DuplicateMatches = []duplicate.MatchResult{{RecordID: "old", Confidence: 100, Reasons: []string{"Same amount"}}}
			receipt.DuplicateReview = &duplicate.Verdict{IsDuplicate: true, Confidence: 0.9, MatchedRecordID: "old"}
			receipt.LinkedDuplicateID = "old"
			Expect(db.SaveReceipt(receipt)).To(Succeed())
		})

		It("round-trips every field", func() {
			got, err := db.GetReceipt("test-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Amount.Equal(receipt.Amount)).To(BeTrue())
			Expect(got.Merchant).To(Equal("Starbucks KLCC"))
			Expect(got.Items).To(Equal(receipt.Items))
			Expect(got.DuplicateStatus).To(Equal(DuplicateDetected))
			Expect(got.DuplicateMatches).To(Equal(receipt.DuplicateMatches))
			Expect(got.DuplicateReview).To(Equal(receipt.DuplicateReview))
			Expect(got.LinkedDuplicateID).To(Equal("old"))
		})

		It("returns not found for unknown IDs", func() {
			_, err := db.GetReceipt("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("ListReceipts", func() {
		It("returns an empty slice for an empty database", func() {
			receipts, err := db.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			Expect(receipts).NotTo(BeNil())
			Expect(receipts).To(BeEmpty())
		})

		It("returns every receipt", func() {
			Expect(db.SaveReceipt(receiptWith("a", "alice", "1.00"))).To(Succeed())
			Expect(db.SaveReceipt(receiptWith("b", "bob", "2.00"))).To(Succeed())
			receipts, err := db.ListReceipts()
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(ConsistOf("a", "b"))
		})
	})

	Describe("ListReceiptsByAmount", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(receiptWith("low", "alice", "9.99"))).To(Succeed())
			Expect(db.SaveReceipt(receiptWith("edge-lo", "alice", "10.00"))).To(Succeed())
			Expect(db.SaveReceipt(receiptWith("mid", "alice", "10.50"))).To(Succeed())
			Expect(db.SaveReceipt(receiptWith("bob-mid", "bob", "10.50"))).To(Succeed())
			Expect(db.SaveReceipt(receiptWith("edge-hi", "alice", "11.00"))).To(Succeed())
			Expect(db.SaveReceipt(receiptWith("high", "alice", "11.01"))).To(Succeed())
			Expect(db.SaveReceipt(receiptWith("refund", "alice", "-10.50"))).To(Succeed())
		})

		It("returns receipts within the inclusive range in amount order", func() {
			receipts, err := db.ListReceiptsByAmount("alice", money("10.00"), money("11.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"edge-lo", "mid", "edge-hi"}))
		})

		It("searches every owner for an empty owner", func() {
			receipts, err := db.ListReceiptsByAmount("", money("10.50"), money("10.50"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(ConsistOf("mid", "bob-mid"))
		})

		It("widens fractional-cent bounds to whole cents", func() {
			receipts, err := db.ListReceiptsByAmount("alice", money("10.004"), money("10.996"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"edge-lo", "mid", "edge-hi"}))
		})

		It("serves a duplicate amount window", func() {
			lo, hi := duplicate.AmountWindow(money("10.50"))
			receipts, err := db.ListReceiptsByAmount("alice", lo, hi)
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"low", "edge-lo", "mid", "edge-hi", "high"}))
		})

		It("orders negative amounts before positive ones", func() {
			receipts, err := db.ListReceiptsByAmount("alice", money("-11.00"), money("10.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"refund", "low", "edge-lo"}))
		})

		It("follows amount changes", func() {
			moved := receiptWith("mid", "alice", "50.00")
			Expect(db.SaveReceipt(moved)).To(Succeed())

			receipts, err := db.ListReceiptsByAmount("alice", money("10.00"), money("11.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"edge-lo", "edge-hi"}))

			receipts, err = db.ListReceiptsByAmount("alice", money("50.00"), money("50.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"mid"}))
		})

		It("drops deleted receipts", func() {
			Expect(db.DeleteReceipt("mid")).To(Succeed())
			receipts, err := db.ListReceiptsByAmount("alice", money("10.00"), money("11.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"edge-lo", "edge-hi"}))
		})
	})

	Describe("index rebuild", func() {
		BeforeEach(func() {
			Expect(db.SaveReceipt(receiptWith("a", "alice", "20.00"))).To(Succeed())
			Expect(db.db.Update(func(tx *bbolt.Tx) error {
				return tx.DeleteBucket([]byte(amountIndexBucketName))
			})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})

		It("restores the amount index on open", func() {
			receipts, err := db.ListReceiptsByAmount("alice", money("19.00"), money("21.00"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"a"}))
		})
	})

	Describe("DeleteReceipt", func() {
		It("removes the receipt", func() {
			Expect(db.SaveReceipt(receiptWith("a", "alice", "1.00"))).To(Succeed())
			Expect(db.DeleteReceipt("a")).To(Succeed())
			_, err := db.GetReceipt("a")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("ignores unknown IDs", func() {
			Expect(db.DeleteReceipt("missing")).To(Succeed())
		})
	})

	Describe("claims", func() {
		var claim *Claim

		BeforeEach(func() {
			reviewed := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
			claim = &Claim{
				ID:          "c1",
				OwnerID:     "alice",
				ReceiptIDs:  []string{"a", "b"},
				TotalAmount: money("19.75"),
				Status:      ClaimApproved,
				ReviewedBy:  "carol",
				ReviewedAt:  &reviewed,
			}
			Expect(db.SaveClaimWithReceipts(claim, nil)).To(Succeed())
		})

		It("round-trips a claim", func() {
			got, err := db.GetClaim("c1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ReceiptIDs).To(Equal([]string{"a", "b"}))
			Expect(got.TotalAmount.Equal(claim.TotalAmount)).To(BeTrue())
			Expect(got.Status).To(Equal(ClaimApproved))
			Expect(got.ReviewedAt.Equal(*claim.ReviewedAt)).To(BeTrue())
		})

		It("returns not found for unknown claims", func() {
			_, err := db.GetClaim("missing")
			Expect(err).To(MatchError(ErrNotFound))
		})

		It("saves the claim and its receipts together", func() {
			Expect(db.SaveReceipt(receiptWith("a", "alice", "12.50"))).To(Succeed())
			claimed := receiptWith("a", "alice", "12.50")
			claimed.ClaimID = "c3"

			Expect(db.SaveClaimWithReceipts(&Claim{ID: "c3", OwnerID: "alice"}, []*Receipt{claimed})).To(Succeed())

			got, err := db.GetReceipt("a")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ClaimID).To(Equal("c3"))
			receipts, err := db.ListReceiptsByAmount("alice", money("12.50"), money("12.50"))
			Expect(err).NotTo(HaveOccurred())
			Expect(ids(receipts)).To(Equal([]string{"a"}))
		})

		It("writes nothing when one receipt cannot be saved", func() {
			Expect(db.SaveReceipt(receiptWith("a", "alice", "12.50"))).To(Succeed())
			claimed := receiptWith("a", "alice", "12.50")
			claimed.ClaimID = "c3"
			broken := receiptWith("", "alice", "1.00")

			err := db.SaveClaimWithReceipts(&Claim{ID: "c3", OwnerID: "alice"}, []*Receipt{claimed, broken})
			Expect(err).To(HaveOccurred())

			_, err = db.GetClaim("c3")
			Expect(err).To(MatchError(ErrNotFound))
			got, err := db.GetReceipt("a")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ClaimID).To(BeEmpty())
		})

		It("lists claims", func() {
			Expect(db.SaveClaimWithReceipts(&Claim{ID: "c2", OwnerID: "bob"}, nil)).To(Succeed())
			claims, err := db.ListClaims()
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).To(HaveLen(2))
		})
	})

	Describe("NewBoltDB", func() {
		It("fails when the database is locked by another handle", func() {
			_, err := NewBoltDB(dbPath)
			Expect(err).To(MatchError(ContainSubstring("opening boltdb")))
		})
	})
})
