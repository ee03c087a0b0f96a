package receipt

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Claims", func() {
	var (
		db      *mockDB
		idGen   *mockIDGenerator
		timeSrc *mockTimeSource
		service *Service
	)

	BeforeEach(func() {
		db = newMockDB()
		idGen = &mockIDGenerator{id: "claim-1"}
		timeSrc = &mockTimeSource{now: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}
		service = NewServiceWithDeps(db, newMockScanner(), newMockStorage(), DuplicateConfig{}, idGen, timeSrc)

		db.receipts["r1"] = &Receipt{ID: "r1", OwnerID: "alice", Amount: money("12.50"), DuplicateStatus: DuplicateNone}
		db.receipts["r2"] = &Receipt{ID: "r2", OwnerID: "alice", Amount: money("7.25"), DuplicateStatus: DuplicateSuspected}
		db.receipts["r3"] = &Receipt{ID: "r3", OwnerID: "bob", Amount: money("3.00"), DuplicateStatus: DuplicateNone}
	})

	Describe("CreateClaim", func() {
		var (
			owner string
			ids   []string
			claim *Claim
			err   error
		)

		BeforeEach(func() {
			owner = "alice"
			ids = []string{"r1", "r2"}
		})

		JustBeforeEach(func() {
			claim, err = service.CreateClaim(owner, ids)
		})

		When("every receipt is eligible", func() {
			It("creates a pending claim", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(claim.ID).To(Equal("claim-1"))
				Expect(claim.OwnerID).To(Equal("alice"))
				Expect(claim.Status).To(Equal(ClaimPending))
				Expect(claim.ReceiptIDs).To(Equal([]string{"r1", "r2"}))
				Expect(claim.CreatedAt).To(Equal(timeSrc.now))
			})

			It("sums the amounts exactly", func() {
				Expect(claim.TotalAmount.StringFixed(2)).To(Equal("19.75"))
			})

			It("marks the receipts as claimed", func() {
				Expect(db.receipts["r1"].ClaimID).To(Equal("claim-1"))
				Expect(db.receipts["r2"].ClaimID).To(Equal("claim-1"))
			})

			It("saves the claim", func() {
				Expect(db.claims).To(HaveKey("claim-1"))
			})
		})

		When("no receipts are given", func() {
			BeforeEach(func() {
				ids = nil
			})

			It("returns an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
			})
		})

		When("a receipt is listed twice", func() {
			BeforeEach(func() {
				ids = []string{"r1", "r1"}
			})

			It("returns an invalid input error", func() {
				Expect(err).To(MatchError(ErrInvalidInput))
				Expect(db.claims).To(BeEmpty())
			})
		})

		When("a receipt does not exist", func() {
			BeforeEach(func() {
				ids = []string{"r1", "missing"}
			})

			It("returns a not found error without touching the others", func() {
				Expect(err).To(MatchError(ErrNotFound))
				Expect(db.receipts["r1"].ClaimID).To(BeEmpty())
			})
		})

		When("a receipt belongs to someone else", func() {
			BeforeEach(func() {
				ids = []string{"r1", "r3"}
			})

			It("returns a forbidden error", func() {
				Expect(err).To(MatchError(ErrForbidden))
			})
		})

		When("a receipt is already claimed", func() {
			BeforeEach(func() {
				db.receipts["r2"].ClaimID = "older-claim"
			})

			It("returns a conflict", func() {
				Expect(err).To(MatchError(ErrConflict))
				Expect(db.receipts["r1"].ClaimID).To(BeEmpty())
			})
		})

		When("a receipt is a confirmed duplicate", func() {
			BeforeEach(func() {
				db.receipts["r2"].DuplicateStatus = DuplicateDetected
				db.receipts["r2"].LinkedDuplicateID = "r0"
			})

			It("blocks the claim", func() {
				Expect(err).To(MatchError(ErrConflict))
				Expect(err).To(MatchError(ContainSubstring("r0")))
				Expect(db.claims).To(BeEmpty())
			})
		})

		When("saving the claim fails", func() {
			BeforeEach(func() {
				db.saveClaimErr = errors.New("disk full")
			})

			It("returns the error and leaves receipts unclaimed", func() {
				Expect(err).To(MatchError(ContainSubstring("saving claim")))
				Expect(db.receipts["r1"].ClaimID).To(BeEmpty())
			})
		})

		When("saving a receipt fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("stores neither the claim nor any receipt change", func() {
				Expect(err).To(MatchError(ContainSubstring("saving claim")))
				Expect(db.claims).To(BeEmpty())
				Expect(db.receipts["r1"].ClaimID).To(BeEmpty())
				Expect(db.receipts["r2"].ClaimID).To(BeEmpty())
			})
		})
	})

	Describe("reviewing", func() {
		BeforeEach(func() {
			_, err := service.CreateClaim("alice", []string{"r1", "r2"})
			Expect(err).NotTo(HaveOccurred())
			timeSrc.now = timeSrc.now.Add(24 * time.Hour)
		})

		Describe("ApproveClaim", func() {
			It("records the reviewer", func() {
				claim, err := service.ApproveClaim("claim-1", "carol", "  looks fine ")
				Expect(err).NotTo(HaveOccurred())
				Expect(claim.Status).To(Equal(ClaimApproved))
				Expect(claim.ReviewedBy).To(Equal("carol"))
				Expect(claim.ReviewNote).To(Equal("looks fine"))
				Expect(claim.ReviewedAt).NotTo(BeNil())
				Expect(*claim.ReviewedAt).To(Equal(timeSrc.now))
			})

			It("keeps the receipts claimed", func() {
				_, err := service.ApproveClaim("claim-1", "carol", "")
				Expect(err).NotTo(HaveOccurred())
				Expect(db.receipts["r1"].ClaimID).To(Equal("claim-1"))
			})

			It("refuses a second review", func() {
				_, err := service.ApproveClaim("claim-1", "carol", "")
				Expect(err).NotTo(HaveOccurred())
				_, err = service.RejectClaim("claim-1", "carol", "")
				Expect(err).To(MatchError(ErrConflict))
			})

			It("returns not found for unknown claims", func() {
				_, err := service.ApproveClaim("nope", "carol", "")
				Expect(err).To(MatchError(ErrNotFound))
			})
		})

		Describe("RejectClaim", func() {
			When("releasing the receipts fails", func() {
				BeforeEach(func() {
					db.saveErr = errors.New("disk full")
				})

				It("leaves the claim pending with its receipts attached", func() {
					_, err := service.RejectClaim("claim-1", "carol", "")
					Expect(err).To(MatchError(ContainSubstring("saving claim")))
					Expect(db.claims["claim-1"].Status).To(Equal(ClaimPending))
					Expect(db.receipts["r1"].ClaimID).To(Equal("claim-1"))
				})
			})

			It("releases the receipts for resubmission", func() {
				claim, err := service.RejectClaim("claim-1", "carol", "missing itemisation")
				Expect(err).NotTo(HaveOccurred())
				Expect(claim.Status).To(Equal(ClaimRejected))
				Expect(db.receipts["r1"].ClaimID).To(BeEmpty())
				Expect(db.receipts["r2"].ClaimID).To(BeEmpty())

				idGen.id = "claim-2"
				again, err := service.CreateClaim("alice", []string{"r1"})
				Expect(err).NotTo(HaveOccurred())
				Expect(again.TotalAmount.StringFixed(2)).To(Equal("12.50"))
			})
		})
	})

	Describe("GetClaimWithReceipts", func() {
		BeforeEach(func() {
			_, err := service.CreateClaim("alice", []string{"r2", "r1"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("returns the receipts in claim order", func() {
			claim, receipts, err := service.GetClaimWithReceipts("claim-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(claim.ID).To(Equal("claim-1"))
			Expect(receipts).To(HaveLen(2))
			Expect(receipts[0].ID).To(Equal("r2"))
			Expect(receipts[1].ID).To(Equal("r1"))
		})

		It("returns not found for unknown claims", func() {
			_, _, err := service.GetClaimWithReceipts("nope")
			Expect(err).To(MatchError(ErrNotFound))
		})
	})

	Describe("ListClaims", func() {
		BeforeEach(func() {
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			db.claims["c1"] = &Claim{ID: "c1", OwnerID: "alice", CreatedAt: base}
			db.claims["c2"] = &Claim{ID: "c2", OwnerID: "bob", CreatedAt: base.Add(time.Hour)}
			db.claims["c3"] = &Claim{ID: "c3", OwnerID: "alice", CreatedAt: base.Add(2 * time.Hour)}
		})

		It("filters by owner, newest first", func() {
			claims, err := service.ListClaims("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).To(HaveLen(2))
			Expect(claims[0].ID).To(Equal("c3"))
			Expect(claims[1].ID).To(Equal("c1"))
		})

		It("returns every claim for an empty owner", func() {
			claims, err := service.ListClaims("")
			Expect(err).NotTo(HaveOccurred())
			Expect(claims).To(HaveLen(3))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listClaimsErr = errors.New("boom")
			})

			It("returns the error", func() {
				_, err := service.ListClaims("")
				Expect(err).To(MatchError(ContainSubstring("listing claims")))
			})
		})
	})
})
