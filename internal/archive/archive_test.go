package archive

import (
	"encoding/json"
	"path/filepath"
	"time"

	"parking/internal/audit"
	"parking/internal/models"
	"parking/internal/store"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.etcd.io/bbolt"
)

func chainOf(types ...string) []models.AuditRecord {
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	rows := make([]store.OutboxRow, 0, len(types))
	for i, entityType := range types {
		rows = append(rows, store.OutboxRow{
			Seq: int64(i + 1),
			AuditEntry: models.AuditEntry{
				EntityType:  entityType,
				EntityID:    "e-1",
				Action:      entityType + ".test",
				PerformedBy: "op-1",
				Timestamp:   base.Add(time.Duration(i) * time.Second),
			},
		})
	}
	return audit.HashChain(0, "", rows)
}

var _ = Describe("Archive", func() {
	var (
		path    string
		archive *Archive
		records []models.AuditRecord
	)

	BeforeEach(func() {
		path = filepath.Join(GinkgoT().TempDir(), "audit.db")
		var err error
		archive, err = Open(path)
		Expect(err).NotTo(HaveOccurred())
		records = chainOf("ticket", "cash_register", "ticket", "pricing_config", "pension")
	})

	AfterEach(func() {
		if archive != nil {
			archive.Close()
		}
	})

	Describe("Write and Range", func() {
		JustBeforeEach(func() {
			Expect(archive.Write(records)).To(Succeed())
		})

		It("returns records across entity types in seq order", func() {
			got, err := archive.Range(1, 5)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(5))
			for i, record := range got {
				Expect(record.Seq).To(Equal(int64(i + 1)))
				Expect(record.Hash).To(Equal(records[i].Hash))
			}
		})

		It("honours the seq bounds", func() {
			got, err := archive.Range(2, 3)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(2))
			Expect(got[0].EntityType).To(Equal("cash_register"))
			Expect(got[1].EntityType).To(Equal("ticket"))
		})

		It("creates one bucket per entity type", func() {
			types, err := archive.EntityTypes()
			Expect(err).NotTo(HaveOccurred())
			Expect(types).To(ConsistOf("ticket", "cash_register", "pricing_config", "pension"))
		})

		It("survives reopening", func() {
			Expect(archive.Close()).To(Succeed())
			var err error
			archive, err = Open(path)
			Expect(err).NotTo(HaveOccurred())
			count, err := archive.Verify()
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(5))
		})
	})

	Describe("Verify", func() {
		When("the archive is empty", func() {
			It("reports nothing to verify", func() {
				count, err := archive.Verify()
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(BeZero())
			})
		})

		When("a partial export starts mid-chain", func() {
			It("anchors on the first record", func() {
				Expect(archive.Write(records[2:])).To(Succeed())
				count, err := archive.Verify()
				Expect(err).NotTo(HaveOccurred())
				Expect(count).To(Equal(3))
			})
		})

		When("a stored record was edited", func() {
			It("reports the broken chain", func() {
				Expect(archive.Write(records)).To(Succeed())
				tampered := records[2]
				tampered.PerformedBy = "someone-else"
				data, err := json.Marshal(tampered)
				Expect(err).NotTo(HaveOccurred())
				Expect(archive.db.Update(func(tx *bbolt.Tx) error {
					return tx.Bucket([]byte(bucketPrefix+"ticket")).Put(seqKey(tampered.Seq), data)
				})).To(Succeed())

				_, err = archive.Verify()
				Expect(err).To(MatchError(audit.ErrChainBroken))
			})
		})
	})
})
