package store

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
  address TEXT NOT NULL PRIMARY KEY,
  lamports INTEGER NOT NULL,
  owner TEXT NOT NULL,
  data BLOB NOT NULL,
  creator TEXT NOT NULL DEFAULT '',
  created_slot INTEGER NOT NULL DEFAULT 0,
  updated_slot INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS txs (
  id TEXT NOT NULL PRIMARY KEY,
  slot INTEGER NOT NULL,
  idx INTEGER NOT NULL,
  status TEXT NOT NULL,
  err TEXT NOT NULL DEFAULT '',
  log TEXT NOT NULL DEFAULT '[]',
  raw BLOB NOT NULL,
  time_ms INTEGER NOT NULL,
  finalized INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS txs_by_slot ON txs (slot, idx);

CREATE TABLE IF NOT EXISTS slots (
  height INTEGER NOT NULL PRIMARY KEY,
  hash BLOB NOT NULL UNIQUE,
  parent BLOB NOT NULL,
  time_ms INTEGER NOT NULL,
  tx_ids TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS pins (
  name TEXT NOT NULL PRIMARY KEY,
  height INTEGER NOT NULL
);
`
