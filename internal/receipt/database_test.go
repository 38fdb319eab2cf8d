package receipt

import (
	"fmt"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
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

	Describe("GetUser", func() {
		var (
			userID string
			user   *User
			err    error
		)

		JustBeforeEach(func() {
			user, err = db.GetUser(userID)
		})

		When("user exists", func() {
			BeforeEach(func() {
				userID = "alice"
				Expect(db.PutUser("alice", &User{PasswordHash: "hash", Plan: "premium", Limit: 100, Used: 3})).To(Succeed())
			})

			It("should return the stored user", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(user).To(Equal(&User{PasswordHash: "hash", Plan: "premium", Limit: 100, Used: 3}))
			})
		})

		When("user does not exist", func() {
			BeforeEach(func() {
				userID = "nobody"
			})

			It("returns user not found", func() {
				Expect(err).To(MatchError(ErrUserNotFound))
				Expect(err.Error()).To(ContainSubstring("nobody"))
			})
		})
	})

	Describe("ListUsers", func() {
		When("no users exist", func() {
			It("should return an empty map", func() {
				users, err := db.ListUsers()
				Expect(err).NotTo(HaveOccurred())
				Expect(users).To(BeEmpty())
				Expect(users).NotTo(BeNil())
			})
		})

		When("users exist", func() {
			BeforeEach(func() {
				Expect(db.PutUser("alice", &User{Plan: "premium"})).To(Succeed())
				Expect(db.PutUser("bob", &User{Plan: "free"})).To(Succeed())
			})

			It("should key every user by ID", func() {
				users, err := db.ListUsers()
				Expect(err).NotTo(HaveOccurred())
				Expect(users).To(HaveLen(2))
				Expect(users["bob"].Plan).To(Equal("free"))
			})
		})
	})

	Describe("CreateUserIfAbsent", func() {
		It("should create a missing user", func() {
			created, err := db.CreateUserIfAbsent("admin", &User{Plan: "premium"})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
		})

		It("should leave an existing user untouched", func() {
			Expect(db.PutUser("admin", &User{Plan: "premium", Used: 9})).To(Succeed())

			created, err := db.CreateUserIfAbsent("admin", &User{Plan: "free"})
			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())

			user, err := db.GetUser("admin")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Used).To(Equal(9))
			Expect(user.Plan).To(Equal("premium"))
		})
	})

	Describe("RecordUpload", func() {
		BeforeEach(func() {
			Expect(db.PutUser("alice", &User{Plan: "premium", Limit: 100})).To(Succeed())
		})

		When("the user exists", func() {
			var (
				user *User
				err  error
			)

			BeforeEach(func() {
				user, err = db.RecordUpload("alice", []*Record{
					{Date: "2025-01-01", VendorName: "Acme", TotalAmount: 12.5, ImageURL: "/uploads/a.jpg", ID: 5},
					{Date: "2025-01-02", VendorName: "Beta", TotalAmount: 3, ImageURL: "/uploads/a.jpg", ID: 5},
				})
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should increment the usage count once", func() {
				Expect(user.Used).To(Equal(1))
				stored, getErr := db.GetUser("alice")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(stored.Used).To(Equal(1))
			})

			It("should keep records that share an ID", func() {
				records, listErr := db.ListRecords()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(2))
			})
		})

		When("the user does not exist", func() {
			It("should write nothing", func() {
				_, err := db.RecordUpload("ghost", []*Record{{VendorName: "Acme"}})
				Expect(err).To(MatchError(ErrUserNotFound))

				records, listErr := db.ListRecords()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})

		When("uploads run concurrently", func() {
			It("should not lose any update", func() {
				const uploads = 25
				var wg sync.WaitGroup
				for i := 0; i < uploads; i++ {
					wg.Add(1)
					go func(i int) {
						defer GinkgoRecover()
						defer wg.Done()
						_, err := db.RecordUpload("alice", []*Record{{VendorName: fmt.Sprintf("v%d", i)}})
						Expect(err).NotTo(HaveOccurred())
					}(i)
				}
				wg.Wait()

				user, err := db.GetUser("alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(user.Used).To(Equal(uploads))

				records, err := db.ListRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(uploads))
			})
		})
	})

	Describe("ListRecords", func() {
		When("no records exist", func() {
			It("should return an empty list", func() {
				records, err := db.ListRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(BeEmpty())
			})
		})

		When("records were appended over several uploads", func() {
			BeforeEach(func() {
				Expect(db.PutUser("alice", &User{})).To(Succeed())
				for _, vendor := range []string{"first", "second", "third"} {
					_, err := db.RecordUpload("alice", []*Record{{VendorName: vendor}})
					Expect(err).NotTo(HaveOccurred())
				}
			})

			It("should return them in insertion order", func() {
				records, err := db.ListRecords()
				Expect(err).NotTo(HaveOccurred())
				Expect(records).To(HaveLen(3))
				Expect(records[0].VendorName).To(Equal("first"))
				Expect(records[2].VendorName).To(Equal("third"))
			})
		})
	})

	Describe("reopening the database", func() {
		It("should keep users and records", func() {
			Expect(db.PutUser("alice", &User{Plan: "premium"})).To(Succeed())
			_, err := db.RecordUpload("alice", []*Record{{VendorName: "Acme"}})
			Expect(err).NotTo(HaveOccurred())
			Expect(db.Close()).To(Succeed())

			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())

			user, err := db.GetUser("alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Used).To(Equal(1))
			records, err := db.ListRecords()
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})
	})
})
