package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamedImports(t *testing.T) {
	code := `import React, { useState, useEffect as useMountEffect } from 'react';
import {
  motion,
  AnimatePresence,
} from "framer-motion";
import * as Icons from 'lucide-react';
import { type Props, Check } from 'lucide-react';
import './styles.css';
import { motion as m } from 'framer-motion';`

	named := NamedImports(code)
	assert.Equal(t, []string{"useEffect", "useState"}, named["react"])
	assert.Equal(t, []string{"AnimatePresence", "motion"}, named["framer-motion"])
	assert.Equal(t, []string{"Check", "Props"}, named["lucide-react"])
	assert.NotContains(t, named, "./styles.css")
}

func TestImportedPackages(t *testing.T) {
	code := `import React from 'react';
import { createRoot } from 'react-dom/client';
import { LineChart } from "recharts";
import { useSortable } from '@dnd-kit/sortable/dist/index';
import helper from './helper';
import data from 'https://example.com/data.js';`

	assert.Equal(t, []string{"@dnd-kit/sortable", "react", "react-dom", "recharts"}, ImportedPackages(code))
}

func TestGlobalModule(t *testing.T) {
	src := GlobalModule("Motion", []string{"motion", "default", "bad-name"}, []string{"animate", "motion"})
	assert.Contains(t, src, "const m = window.Motion || {};")
	assert.Contains(t, src, "export default m;")
	assert.Contains(t, src, "export const { animate, motion } = m;")

	assert.NotContains(t, GlobalModule("X"), "export const")
}
