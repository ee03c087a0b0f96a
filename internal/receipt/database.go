package receipt

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.etcd.io/bbolt"
)

const (
	receiptBucketName = "receipts"
	claimBucketName   = "claims"
	// amountIndexBucketName maps order-preserving cents || receipt ID to nothing
	amountIndexBucketName = "receipts_by_amount"
)

// DB defines the interface for database operations
type DB interface {
	// SaveReceipt saves a receipt to the database
	SaveReceipt(receipt *Receipt) error

	// GetReceipt retrieves a receipt by ID
	GetReceipt(id string) (*Receipt, error)

	// ListReceipts returns all receipts
	ListReceipts() ([]*Receipt, error)

	// ListReceiptsByAmount returns receipts whose amount lies in [min, max].
	// An empty ownerID searches every owner.
	ListReceiptsByAmount(ownerID string, min, max decimal.Decimal) ([]*Receipt, error)

	// DeleteReceipt removes a receipt from the database
	DeleteReceipt(id string) error

	// SaveClaimWithReceipts saves a claim and the receipts it touches in one
	// transaction. Either everything is written or nothing is.
	SaveClaimWithReceipts(claim *Claim, receipts []*Receipt) error

	// GetClaim retrieves a claim by ID
	GetClaim(id string) (*Claim, error)

	// ListClaims returns all claims
	ListClaims() ([]*Claim, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		receipts, err := tx.CreateBucketIfNotExists([]byte(receiptBucketName))
		if err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(claimBucketName)); err != nil {
			return err
		}
		if tx.Bucket([]byte(amountIndexBucketName)) != nil {
			return nil
		}
		index, err := tx.CreateBucket([]byte(amountIndexBucketName))
		if err != nil {
			return err
		}
		return rebuildAmountIndex(receipts, index)
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// amountCents converts an amount to whole cents, rounding half away from zero.
func amountCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// encodeCents flips the sign bit so negative amounts sort before positive ones.
func encodeCents(cents int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(cents)^(1<<63))
	return key
}

func decodeCents(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[:8]) ^ (1 << 63))
}

func amountIndexKey(amount decimal.Decimal, id string) []byte {
	return append(encodeCents(amountCents(amount)), id...)
}

func rebuildAmountIndex(receipts, index *bbolt.Bucket) error {
	return receipts.ForEach(func(k, v []byte) error {
		var receipt Receipt
		if err := json.Unmarshal(v, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt %s: %w", k, err)
		}
		return index.Put(amountIndexKey(receipt.Amount, receipt.ID), nil)
	})
}

// SaveReceipt saves a receipt to the database and keeps the amount index in step
func (b *BoltDB) SaveReceipt(receipt *Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putReceipt(tx, receipt)
	})
}

// putReceipt writes a receipt and moves its amount index entry
func putReceipt(tx *bbolt.Tx, receipt *Receipt) error {
	bucket := tx.Bucket([]byte(receiptBucketName))
	index := tx.Bucket([]byte(amountIndexBucketName))

	if existing := bucket.Get([]byte(receipt.ID)); existing != nil {
		var previous Receipt
		if err := json.Unmarshal(existing, &previous); err != nil {
			return fmt.Errorf("unmarshaling existing receipt: %w", err)
		}
		if err := index.Delete(amountIndexKey(previous.Amount, previous.ID)); err != nil {
			return fmt.Errorf("removing stale index entry: %w", err)
		}
	}

	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling receipt: %w", err)
	}
	if err := bucket.Put([]byte(receipt.ID), data); err != nil {
		return err
	}
	return index.Put(amountIndexKey(receipt.Amount, receipt.ID), nil)
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(id string) (*Receipt, error) {
	var receipt *Receipt
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("receipt %w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &receipt)
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (b *BoltDB) ListReceipts() ([]*Receipt, error) {
	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var receipt Receipt
			if err := json.Unmarshal(v, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			receipts = append(receipts, &receipt)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// ListReceiptsByAmount scans the amount index between min and max, inclusive.
// Bounds are widened to whole cents.
func (b *BoltDB) ListReceiptsByAmount(ownerID string, min, max decimal.Decimal) ([]*Receipt, error) {
	lo := min.Shift(2).Floor().IntPart()
	hi := max.Shift(2).Ceil().IntPart()

	receipts := make([]*Receipt, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		c := tx.Bucket([]byte(amountIndexBucketName)).Cursor()

		for k, _ := c.Seek(encodeCents(lo)); k != nil && decodeCents(k) <= hi; k, _ = c.Next() {
			data := bucket.Get(k[8:])
			if data == nil {
				continue
			}
			var receipt Receipt
			if err := json.Unmarshal(data, &receipt); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			if ownerID != "" && receipt.OwnerID != ownerID {
				continue
			}
			receipts = append(receipts, &receipt)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipts, nil
}

// DeleteReceipt removes a receipt and its index entry from the database
func (b *BoltDB) DeleteReceipt(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(receiptBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return nil
		}
		var receipt Receipt
		if err := json.Unmarshal(data, &receipt); err != nil {
			return fmt.Errorf("unmarshaling receipt: %w", err)
		}
		if err := tx.Bucket([]byte(amountIndexBucketName)).Delete(amountIndexKey(receipt.Amount, id)); err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
}

// SaveClaimWithReceipts saves a claim and its receipts atomically
func (b *BoltDB) SaveClaimWithReceipts(claim *Claim, receipts []*Receipt) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := putClaim(tx, claim); err != nil {
			return err
		}
		for _, receipt := range receipts {
			if err := putReceipt(tx, receipt); err != nil {
				return fmt.Errorf("saving receipt %s: %w", receipt.ID, err)
			}
		}
		return nil
	})
}

func putClaim(tx *bbolt.Tx, claim *Claim) error {
	bucket := tx.Bucket([]byte(claimBucketName))
	data, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("marshaling claim: %w", err)
	}
	return bucket.Put([]byte(claim.ID), data)
}

// GetClaim retrieves a claim by ID
func (b *BoltDB) GetClaim(id string) (*Claim, error) {
	var claim *Claim
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(claimBucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("claim %w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &claim)
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

// ListClaims returns all claims
func (b *BoltDB) ListClaims() ([]*Claim, error) {
	claims := make([]*Claim, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(claimBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var claim Claim
			if err := json.Unmarshal(v, &claim); err != nil {
				return fmt.Errorf("unmarshaling claim: %w", err)
			}
			claims = append(claims, &claim)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
