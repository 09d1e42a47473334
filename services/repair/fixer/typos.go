// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fixer

// Curated typo tables. Entries are misspellings observed repeatedly in
// real failure corpora, not generated permutations; additions should
// come with a traceback that hit them.

// nameTypos maps misspelled bare names (builtins, keywords-as-values)
// to the intended spelling. Used for NameError.
var nameTypos = map[string]string{
	"appned": "append",
	"apend":  "append",
	"pirnt":  "print",
	"pritn":  "print",
	"prnit":  "print",
	"ture":   "True",
	"flase":  "False",
	"fasle":  "False",
	"slef":   "self",
	"sefl":   "self",
	"opn":    "open",
	"oepn":   "open",
	"lne":    "len",
	"lenn":   "len",
	"maxx":   "max",
	"mni":    "min",
	"raneg":  "range",
	"rnage":  "range",
	"summ":   "sum",
	"srt":    "str",
	"itn":    "int",
	"flt":    "float",
	"bol":    "bool",
	"dct":    "dict",
	"tpl":    "tuple",
	"lst":    "list",
}

// attrTypos maps misspelled attribute/method names to the intended
// spelling. Replacements only ever apply after a '.', so these can be
// aggressive without touching identifiers of the same shape.
var attrTypos = map[string]string{
	// str
	"uper":       "upper",
	"uppper":     "upper",
	"loewr":      "lower",
	"lowr":       "lower",
	"lowwer":     "lower",
	"striip":     "strip",
	"strp":       "strip",
	"stip":       "strip",
	"spilt":      "split",
	"splt":       "split",
	"splitt":     "split",
	"joiin":      "join",
	"jion":       "join",
	"repalce":    "replace",
	"replacce":   "replace",
	"startwith":  "startswith",
	"starswith":  "startswith",
	"endwith":    "endswith",
	"endswidth":  "endswith",
	"isalpa":     "isalpha",
	"isalnm":     "isalnum",
	"isdigt":     "isdigit",
	"isnumric":   "isnumeric",
	"formt":      "format",
	"encod":      "encode",
	"decod":      "decode",
	"capitlize":  "capitalize",
	"zfil":       "zfill",
	"counnt":     "count",
	"findd":      "find",
	"inddex":     "index",
	// list
	"srot":      "sort",
	"revese":    "reverse",
	"appnd":     "append",
	"apendleft": "appendleft",
	"poplft":    "popleft",
	"exted":     "extend",
	"insrt":     "insert",
	"remov":     "remove",
	"popp":      "pop",
	"cler":      "clear",
	"cpy":       "copy",
	// dict
	"kyes":   "keys",
	"valuse": "values",
	"valeus": "values",
	"itmes":  "items",
	"upadte": "update",
	"gte":    "get",
	// set
	"uion":         "union",
	"intersecton":  "intersection",
	// random / heapq / collections / copy
	"shuffe":     "shuffle",
	"choce":      "choice",
	"chioce":     "choice",
	"sampl":      "sample",
	"heapfy":     "heapify",
	"heappoop":   "heappop",
	"heappsh":    "heappush",
	"nsmallst":   "nsmallest",
	"most_comon": "most_common",
	"deepcpy":    "deepcopy",
	// os.path
	"exsts":  "exists",
	"exsits": "exists",
	// file objects
	"raed": "read",
}

// stdlibModuleTypos maps misspelled standard-library module names to the
// real module. Used for ImportError/ModuleNotFoundError and applied to
// both import statements and attribute uses of the module.
var stdlibModuleTypos = map[string]string{
	"maath":       "math",
	"maths":       "math",
	"matth":       "math",
	"ramdom":      "random",
	"randm":       "random",
	"randon":      "random",
	"randoom":     "random",
	"jsn":         "json",
	"jsom":        "json",
	"jsonn":       "json",
	"oss":         "os",
	"syss":        "sys",
	"tiem":        "time",
	"timee":       "time",
	"collectons":  "collections",
	"collecitons": "collections",
	"colections":  "collections",
	"itertols":    "itertools",
	"itertool":    "itertools",
	"functols":    "functools",
	"functool":    "functools",
	"functoolss":  "functools",
	"pathlibb":    "pathlib",
	"pathllib":    "pathlib",
	"pathliib":    "pathlib",
	"rre":         "re",
	"loging":      "logging",
	"loggging":    "logging",
	"loggin":      "logging",
	"datetme":     "datetime",
	"dattime":     "datetime",
	"datetim":     "datetime",
	"typng":       "typing",
	"typping":     "typing",
	"subproces":   "subprocess",
	"subproccess": "subprocess",
	"heapqq":      "heapq",
	"bisectt":     "bisect",
	"copyy":       "copy",
	"operatorr":   "operator",
	"enumm":       "enum",
}

// dictKeyTypos maps misspelled dict keys to the intended key. Used for
// KeyError; replacements apply to subscript and .get() access only.
var dictKeyTypos = map[string]string{
	"nme":    "name",
	"namee":  "name",
	"naem":   "name",
	"valeu":  "value",
	"vlaue":  "value",
	"vlue":   "value",
	"ky":     "key",
	"kye":    "key",
	"tpye":   "type",
	"tyep":   "type",
	"idd":    "id",
	"dat":    "data",
	"dataa":  "data",
	"resutl": "result",
	"reuslt": "result",
	"statsu": "status",
	"stauts": "status",
	"mesage": "message",
	"messge": "message",
}
