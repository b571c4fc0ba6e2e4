// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/forgeworks/anvil/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("anvil_test"),
			postgres.WithUsername("anvil"),
			postgres.WithPassword("anvil"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		Expect(err).NotTo(HaveOccurred())
		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	})

	It("walks the schema up, down and back", func() {
		m, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		defer m.Close()

		v, dirty, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())
		Expect(dirty).To(BeFalse())

		Expect(m.Up()).To(Succeed())
		latest, _, err := m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).To(Equal(uint(2)))

		Expect(m.Steps(-1)).To(Succeed())
		v, _, err = m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(latest - 1))

		Expect(m.Steps(1)).To(Succeed())
		Expect(m.Down()).To(Succeed())
		v, _, err = m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())

		Expect(m.Up()).To(Succeed())
		Expect(m.Force(1)).To(Succeed())
		v, dirty, err = m.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint(1)))
		Expect(dirty).To(BeFalse())
	})

	It("opens a pool against the migrated schema", func() {
		pool, err := store.Open(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		var n int
		Expect(pool.QueryRow(ctx, `SELECT count(*) FROM items`).Scan(&n)).To(Succeed())
		Expect(n).To(BeZero())
	})
})
